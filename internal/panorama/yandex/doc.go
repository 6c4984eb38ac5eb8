// Package yandex implements harvest.PanoramaService against the Yandex Maps
// street-view endpoints: a JSON lookup by coordinate or by panorama ID, and a
// tiled image download that is stitched into a single equirectangular JPEG.
package yandex
