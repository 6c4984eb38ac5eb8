// Package extract turns a downloaded equirectangular panorama into the views
// that are fingerprinted and saved.
//
// Two policies exist. SinglePolicy trims near-black and near-white borders
// and returns one unlabeled view. MultiPolicy projects a forward and a
// backward perspective view and crops each to a year-specific band of rows.
package extract
