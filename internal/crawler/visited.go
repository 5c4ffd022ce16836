package crawler

import "sync"

// VisitedSet tracks the URLs claimed during one crawl run. It is safe for
// concurrent use and is shared by pointer between frontier items.
type VisitedSet struct {
	seen sync.Map
}

// NewVisitedSet returns an empty set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (v *VisitedSet) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := v.seen.LoadOrStore(url, struct{}{})
	return !loaded
}

// Seen reports whether url was already claimed.
func (v *VisitedSet) Seen(url string) bool {
	_, ok := v.seen.Load(url)
	return ok
}

// Len counts claimed URLs.
func (v *VisitedSet) Len() int {
	n := 0
	v.seen.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
