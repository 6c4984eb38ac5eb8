// Package dedup gates extracted views on their perceptual fingerprint.
package dedup

import "github.com/JakeFAU/panorama-harvester/internal/harvest"

// Index answers whether a fingerprint was already accepted for the year's
// crawl. It wraps the set held by harvest.CrawlState so admissions are
// persisted with the checkpoint; entries are never evicted.
type Index struct {
	set map[harvest.Fingerprint]struct{}
}

// New wraps set without copying it. A nil set starts an empty index.
func New(set map[harvest.Fingerprint]struct{}) *Index {
	if set == nil {
		set = make(map[harvest.Fingerprint]struct{})
	}
	return &Index{set: set}
}

// Contains reports whether fp was admitted before.
func (i *Index) Contains(fp harvest.Fingerprint) bool {
	_, ok := i.set[fp]
	return ok
}

// Admit records fp as accepted.
func (i *Index) Admit(fp harvest.Fingerprint) {
	i.set[fp] = struct{}{}
}

// Len returns the number of admitted fingerprints.
func (i *Index) Len() int {
	return len(i.set)
}
