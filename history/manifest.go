package history

// Manifest is an insertion-ordered collection of FileEntry keyed by
// RelativeKey. Keys are unique per manifest by store invariant; a duplicate
// key is tolerated with last-wins semantics in the index (the earlier entry
// keeps its slot, the lookup resolves to the later one).
type Manifest struct {
	entries []FileEntry
	index   map[string]int
}

// NewManifest builds a manifest from entries, preserving order.
func NewManifest(entries []FileEntry) *Manifest {
	m := &Manifest{
		entries: make([]FileEntry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		m.Append(e)
	}
	return m
}

// Append adds one entry. A repeated key overwrites the indexed entry in
// place rather than growing the manifest.
func (m *Manifest) Append(e FileEntry) {
	if i, ok := m.index[e.RelativeKey]; ok {
		m.entries[i] = e
		return
	}
	m.index[e.RelativeKey] = len(m.entries)
	m.entries = append(m.entries, e)
}

// Get returns the entry for key, if present.
func (m *Manifest) Get(key string) (FileEntry, bool) {
	if m == nil {
		return FileEntry{}, false
	}
	i, ok := m.index[key]
	if !ok {
		return FileEntry{}, false
	}
	return m.entries[i], true
}

// Len returns the number of distinct keys.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns the entries in insertion order. The returned slice is a
// copy and safe to retain.
func (m *Manifest) Entries() []FileEntry {
	if m == nil {
		return nil
	}
	out := make([]FileEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Keys returns the relative keys in insertion order.
func (m *Manifest) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		keys = append(keys, e.RelativeKey)
	}
	return keys
}
