package tree

// OrderedMap is a string-keyed map that preserves insertion order, used for
// every KindMap node so that schema-declaration order (needed for argv
// ordering in the cab model, §4.4) survives round-tripping through the tree.
type OrderedMap struct {
	keys   []string
	values map[string]*Node
}

// NewOrderedMap returns an empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]*Node)}
}

// Get returns the value for key and whether it was present.
func (m *OrderedMap) Get(key string) (*Node, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Set inserts or overwrites key, appending to the key order on first insert.
func (m *OrderedMap) Set(key string, value *Node) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Delete removes key, if present.
func (m *OrderedMap) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns keys in insertion order.
func (m *OrderedMap) Keys() []string {
	return m.keys
}

// Len returns the number of entries.
func (m *OrderedMap) Len() int {
	return len(m.keys)
}

// Clone returns a shallow-ordered, deep-valued copy.
func (m *OrderedMap) Clone() *OrderedMap {
	out := NewOrderedMap()
	for _, k := range m.keys {
		out.Set(k, m.values[k].Clone())
	}
	return out
}
