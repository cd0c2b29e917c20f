package panel

import "sort"

// Encoding maps entity identifiers to dense integer indices for the lifetime of one run.
// Indices follow the sorted order of the identifiers so ordering by index is ordering by id.
type Encoding struct {
	ids []string
	idx map[string]int
}

// NewEncoding builds an encoding over the unique input identifiers
func NewEncoding(ids []string) *Encoding {
	uniq := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		uniq[id] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for id := range uniq {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	idx := make(map[string]int, len(sorted))
	for i, id := range sorted {
		idx[id] = i
	}
	return &Encoding{ids: sorted, idx: idx}
}

// Lookup returns the index of an identifier
func (e *Encoding) Lookup(id string) (int, bool) {
	if e == nil {
		return -1, false
	}
	i, exists := e.idx[id]
	return i, exists
}

// Decode returns the identifier of an index or an empty string if out of range
func (e *Encoding) Decode(i int) string {
	if e == nil || i < 0 || i >= len(e.ids) {
		return ""
	}
	return e.ids[i]
}

// Len is the number of encoded entities
func (e *Encoding) Len() int {
	if e == nil {
		return 0
	}
	return len(e.ids)
}

// IDs returns a copy of the identifiers in index order
func (e *Encoding) IDs() []string {
	if e == nil {
		return nil
	}
	ids := make([]string, len(e.ids))
	copy(ids, e.ids)
	return ids
}
