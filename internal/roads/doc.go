// Package roads loads the road network that drives a harvest: a CSV table of
// named segments whose geometry column holds "lon lat" pairs. It also owns the
// name clean-up applied before a road name reaches a log or a file name.
package roads
