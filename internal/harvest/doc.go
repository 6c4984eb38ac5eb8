// Package harvest defines the model shared by the panorama acquisition
// pipeline: coordinates, road segments, panorama candidates, fingerprints,
// persisted crawl state, output records, and the collaborator interfaces the
// pipeline depends on.
package harvest
