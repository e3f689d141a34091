// Package entities defines the GORM models of the image catalog.
//
//   - Image: one openly licensed image, keyed by the hash of its URL
//   - Tag: a subject keyword attached to images by a provider
//
// Images reference tags by name through their JSON tags column rather than
// a join table; the search index is the only consumer of per-image tags.
package entities
