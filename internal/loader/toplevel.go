package loader

import "github.com/caracal/kitchen/pkg/tree"

// wellKnownTopLevel are the configuration tree's recognized top-level keys
// (spec §3). Anything else at the top level is implicitly reparented under
// lib.recipes.<key>, so a document can declare a recipe at its root without
// boilerplate wrapping.
var wellKnownTopLevel = map[string]bool{
	"cabs": true, "opts": true, "lib": true, "vars": true, "run": true, "image": true,
}

// NormalizeTopLevel reparents any top-level key that isn't well-known under
// lib.recipes.<key>, mutating and returning root.
func NormalizeTopLevel(root *tree.Node) *tree.Node {
	if root == nil || root.Kind != tree.KindMap {
		return root
	}
	var stray []string
	for _, k := range root.Map.Keys() {
		if !wellKnownTopLevel[k] {
			stray = append(stray, k)
		}
	}
	if len(stray) == 0 {
		return root
	}

	lib, ok := root.Map.Get("lib")
	if !ok || lib.Kind != tree.KindMap {
		lib = &tree.Node{Kind: tree.KindMap, Map: tree.NewOrderedMap()}
		root.Map.Set("lib", lib)
	}
	recipes, ok := lib.Map.Get("recipes")
	if !ok || recipes.Kind != tree.KindMap {
		recipes = &tree.Node{Kind: tree.KindMap, Map: tree.NewOrderedMap()}
		lib.Map.Set("recipes", recipes)
	}
	for _, k := range stray {
		v, _ := root.Map.Get(k)
		recipes.Map.Set(k, v)
		root.Map.Delete(k)
	}
	return root
}
