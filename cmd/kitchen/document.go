package main

import (
	"fmt"
	"log/slog"

	"github.com/caracal/kitchen/internal/loader"
	"github.com/caracal/kitchen/pkg/cab"
	"github.com/caracal/kitchen/pkg/recipe"
	"github.com/caracal/kitchen/pkg/tree"
)

// document is the fully loaded, merged and normalized configuration tree
// for one invocation, plus the typed cab/recipe projections parsed out of
// its "cabs" and "lib.recipes" sections (spec §3/§4.1).
type document struct {
	root    *tree.Node
	cabs    map[string]*cab.Cab
	recipes map[string]*recipe.Recipe
	// recipeOrder preserves declaration order, used by the "last recipe"
	// selector (spec §6) when no recipe name is given on the command line.
	recipeOrder []string
}

// loadDocument loads and merges one or more document paths (spec §6
// "Run: inputs — one or more document paths"), in listed order, and parses
// every cab/recipe it declares.
func loadDocument(paths []string, searchPaths []string, logger *slog.Logger) (*document, error) {
	ld := loader.New(logger, searchPaths)

	merged := &tree.Node{Kind: tree.KindMap, Map: tree.NewOrderedMap()}
	for _, p := range paths {
		resolved, err := ld.LoadAndResolve(p)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
		merged = tree.Merge(merged, resolved)
	}
	merged = loader.NormalizeTopLevel(merged)

	doc := &document{
		root:    merged,
		cabs:    map[string]*cab.Cab{},
		recipes: map[string]*recipe.Recipe{},
	}

	if cabsNode := merged.Get([]string{"cabs"}); cabsNode != nil && cabsNode.Kind == tree.KindMap {
		for _, name := range cabsNode.Map.Keys() {
			cv, _ := cabsNode.Map.Get(name)
			c, err := cab.Parse(name, cv)
			if err != nil {
				return nil, fmt.Errorf("cab %q: %w", name, err)
			}
			doc.cabs[name] = c
		}
	}

	if recipesNode := merged.Get([]string{"lib", "recipes"}); recipesNode != nil && recipesNode.Kind == tree.KindMap {
		for _, name := range recipesNode.Map.Keys() {
			rv, _ := recipesNode.Map.Get(name)
			r, err := recipe.Parse(name, rv)
			if err != nil {
				return nil, fmt.Errorf("recipe %q: %w", name, err)
			}
			doc.recipes[name] = r
			doc.recipeOrder = append(doc.recipeOrder, name)
		}
	}

	return doc, nil
}

// cabResolver returns the recipe.CabResolver backed by this document's cabs.
func (d *document) cabResolver() recipe.CabResolver {
	return func(name string) (*cab.Cab, bool) { c, ok := d.cabs[name]; return c, ok }
}

// recipeResolver returns the recipe.RecipeResolver backed by this
// document's sub-recipes.
func (d *document) recipeResolver() recipe.RecipeResolver {
	return func(name string) (*recipe.Recipe, bool) { r, ok := d.recipes[name]; return r, ok }
}

// selectRecipe resolves the recipe named on the command line, or — per
// spec §6's "last recipe" selector — the most recently declared one when
// name is empty.
func (d *document) selectRecipe(name string) (*recipe.Recipe, error) {
	if name != "" {
		r, ok := d.recipes[name]
		if !ok {
			return nil, fmt.Errorf("recipe %q not found", name)
		}
		return r, nil
	}
	if len(d.recipeOrder) == 0 {
		return nil, fmt.Errorf("document declares no recipes")
	}
	last := d.recipeOrder[len(d.recipeOrder)-1]
	return d.recipes[last], nil
}
