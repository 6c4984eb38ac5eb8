// Package pipeline drives a harvest run: it walks every road segment's
// coordinates in order, resolves a panorama for the target year, extracts
// views, and keeps only views whose perceptual fingerprint has not been seen
// this year.
//
// Per view the order of durable effects is fixed: image file, output log row
// (fsynced), then fingerprint admission saved with the crawl state before any
// side channel or the next view runs. The coordinate is checkpointed again
// once it is marked visited. A crash therefore never loses a sequence ID that
// reached the log and never re-saves a view whose row was written.
package pipeline
