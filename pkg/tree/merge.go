package tree

// Merge recursively deep-merges from into into and returns the result.
// Mapping ∪ mapping is merged key-wise; any other combination (scalar,
// list, or mismatched kinds) is resolved by the later value overwriting
// the earlier one. into is mutated and returned for convenience.
//
// merge(merge({}, A), B) == merge({}, merge(A, B)) for mapping keys, since
// both orders converge to "last write per key path wins".
func Merge(into, from *Node) *Node {
	if from == nil {
		return into
	}
	if into == nil || into.Kind == KindNull {
		return from.Clone()
	}
	if into.Kind != KindMap || from.Kind != KindMap {
		// Non-mapping leaves: later value wins outright.
		return from.Clone()
	}

	for _, k := range from.Map.Keys() {
		fv, _ := from.Map.Get(k)
		if iv, ok := into.Map.Get(k); ok {
			into.Map.Set(k, Merge(iv, fv))
		} else {
			into.Map.Set(k, fv.Clone())
		}
	}
	return into
}

// MergeNew merges from onto a fresh empty map rooted copy of into, leaving
// both inputs untouched.
func MergeNew(into, from *Node) *Node {
	var base *Node
	if into == nil {
		base = &Node{Kind: KindMap, Map: NewOrderedMap()}
	} else {
		base = into.Clone()
	}
	return Merge(base, from)
}
