// Package loader implements the Document Loader & Merger (spec §4.1): it
// parses structured-text recipe/cab documents, resolves _include /
// _include_post / _use / _scrub directives, and produces a single merged
// configuration tree. Grounded on the teacher's internal/parser.Parser,
// which follows the same "logger-carrying struct with a Parse* entry point"
// shape for YAML documents.
package loader

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caracal/kitchen/internal/kerrors"
	"github.com/caracal/kitchen/pkg/tree"
	"gopkg.in/yaml.v3"
)

// Loader reads and merges configuration-tree documents.
type Loader struct {
	logger      *slog.Logger
	searchPaths []string // STIMELA_INCLUDE entries, in order
}

// New creates a Loader. searchPaths are consulted (after the current
// directory and before the including document's own directory) when
// resolving bare _include/_use filenames, per spec §4.1's search order.
func New(logger *slog.Logger, searchPaths []string) *Loader {
	return &Loader{
		logger:      logger.With("component", "loader"),
		searchPaths: searchPaths,
	}
}

// SearchPathsFromEnv splits STIMELA_INCLUDE (colon-separated) into a path list.
func SearchPathsFromEnv() []string {
	v := os.Getenv("STIMELA_INCLUDE")
	if v == "" {
		return nil
	}
	return strings.Split(v, ":")
}

// reference is a parsed _include/_use entry: an optional package qualifier,
// a filename, whether it is marked [optional], and whether "(.)" pinned the
// search to the including document's own directory.
type reference struct {
	pkg         string
	name        string
	optional    bool
	relativeDot bool
}

func parseReference(raw string) reference {
	r := reference{name: raw}
	r.name = strings.TrimSpace(r.name)
	if strings.HasSuffix(r.name, "[optional]") {
		r.optional = true
		r.name = strings.TrimSpace(strings.TrimSuffix(r.name, "[optional]"))
	}
	if strings.HasPrefix(r.name, "(.)") {
		r.relativeDot = true
		r.name = strings.TrimPrefix(r.name, "(.)")
	} else if strings.HasPrefix(r.name, "(") {
		if idx := strings.Index(r.name, ")"); idx > 0 {
			r.pkg = r.name[1:idx]
			r.name = r.name[idx+1:]
		}
	}
	return r
}

// resolvePath finds the file on disk for a reference, honoring the §4.1
// search order: current directory, STIMELA_INCLUDE paths, standard user
// locations, then the including document's own directory (or exclusively
// that directory, if "(.)" was used).
func (l *Loader) resolvePath(ref reference, includingDir string) (string, error) {
	if filepath.IsAbs(ref.name) {
		return ref.name, nil
	}
	if ref.relativeDot {
		candidate := filepath.Join(includingDir, ref.name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		return "", fmt.Errorf("%q not found relative to including document", ref.name)
	}

	candidates := []string{ref.name}
	for _, sp := range l.searchPaths {
		candidates = append(candidates, filepath.Join(sp, ref.name))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".stimela", ref.name))
	}
	candidates = append(candidates, filepath.Join(includingDir, ref.name))

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("%q not found in search path", ref.name)
}

// Load reads a single document from disk and returns its raw tree, without
// resolving includes (callers use LoadAndResolve for the full pipeline).
func (l *Loader) Load(path string) (*tree.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.LoadError, fmt.Errorf("read %s: %w", path, err))
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, kerrors.Wrap(kerrors.LoadError, fmt.Errorf("parse %s: %w", path, err))
	}
	return tree.FromAny(raw), nil
}

// LoadAndResolve loads path and fully resolves _include/_include_post/_use/
// _scrub to a fixed point, returning a tree containing none of those keys.
func (l *Loader) LoadAndResolve(path string) (*tree.Node, error) {
	root, err := l.Load(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	return l.resolveIncludes(root, dir, 0)
}

const maxIncludeDepth = 64

// resolveIncludes processes _include (pre), the body (recursively, since
// includes may nest inside sub-maps), then _include_post, then _use, then
// _scrub, iterating to a fixed point.
func (l *Loader) resolveIncludes(n *tree.Node, dir string, depth int) (*tree.Node, error) {
	if depth > maxIncludeDepth {
		return nil, kerrors.New(kerrors.LoadError, "include recursion limit exceeded")
	}
	if n == nil || n.Kind != tree.KindMap {
		return n, nil
	}

	changed := true
	for changed {
		changed = false

		if pre, ok := n.Map.Get("_include"); ok {
			merged, err := l.loadIncludeList(pre, dir, depth)
			if err != nil {
				return nil, err
			}
			n.Map.Delete("_include")
			n = tree.Merge(merged, n)
			changed = true
			continue
		}

		// Recurse into children so nested _include/_use are picked up.
		for _, k := range n.Map.Keys() {
			child, _ := n.Map.Get(k)
			if child != nil && child.Kind == tree.KindMap {
				resolved, err := l.resolveIncludes(child, dir, depth+1)
				if err != nil {
					return nil, err
				}
				n.Map.Set(k, resolved)
			}
		}

		if post, ok := n.Map.Get("_include_post"); ok {
			merged, err := l.loadIncludeList(post, dir, depth)
			if err != nil {
				return nil, err
			}
			n.Map.Delete("_include_post")
			n = tree.Merge(n, merged)
			changed = true
			continue
		}

		if use, ok := n.Map.Get("_use"); ok {
			resolved, err := l.resolveUse(n, use)
			if err != nil {
				return nil, err
			}
			n.Map.Delete("_use")
			n = resolved
			changed = true
			continue
		}

		if scrub, ok := n.Map.Get("_scrub"); ok {
			if err := l.applyScrub(n, scrub); err != nil {
				return nil, err
			}
			n.Map.Delete("_scrub")
			changed = true
			continue
		}
	}

	return n, nil
}

// loadIncludeList loads and merges a list (or single string) of _include
// references, in listed order.
func (l *Loader) loadIncludeList(directive *tree.Node, dir string, depth int) (*tree.Node, error) {
	refs := stringList(directive)
	accum := &tree.Node{Kind: tree.KindMap, Map: tree.NewOrderedMap()}
	for _, raw := range refs {
		ref := parseReference(raw)
		path, err := l.resolvePath(ref, dir)
		if err != nil {
			if ref.optional {
				l.logger.Debug("optional include not found, skipping", "ref", raw)
				continue
			}
			return nil, kerrors.Wrap(kerrors.IncludeNotFound, fmt.Errorf("%s: %w", raw, err))
		}
		sub, err := l.Load(path)
		if err != nil {
			return nil, err
		}
		sub, err = l.resolveIncludes(sub, filepath.Dir(path), depth+1)
		if err != nil {
			return nil, err
		}
		accum = tree.Merge(accum, sub)
	}
	return accum, nil
}

// resolveUse copies and merges the named subtree(s) referenced by _use into
// the current node: `_use: X` is equivalent to merge(resolve(X), local).
// Each name is a dotted path looked up inside the node that carries _use;
// sections elsewhere in the tree are not searched.
func (l *Loader) resolveUse(local *tree.Node, use *tree.Node) (*tree.Node, error) {
	names := stringList(use)
	base := &tree.Node{Kind: tree.KindMap, Map: tree.NewOrderedMap()}
	for _, name := range names {
		path := strings.Split(name, ".")
		target := local.Get(path)
		if target == nil {
			// The name is not a path within this node: a dangling reference.
			return nil, kerrors.Newf(kerrors.LoadError, "_use: %q not found", name)
		}
		base = tree.Merge(base, target)
	}
	return tree.Merge(base, local), nil
}

// applyScrub removes the dotted paths listed under _scrub. Every listed path
// must be present: an absent path, or one whose parent is not a mapping,
// fails with ScrubPathMissing.
func (l *Loader) applyScrub(n *tree.Node, scrub *tree.Node) error {
	paths := stringList(scrub)
	for _, p := range paths {
		segs := strings.Split(p, ".")
		parent := n
		for _, seg := range segs[:len(segs)-1] {
			if parent == nil || parent.Kind != tree.KindMap {
				parent = nil
				break
			}
			v, _ := parent.Map.Get(seg)
			parent = v
		}
		leaf := segs[len(segs)-1]
		if parent == nil || parent.Kind != tree.KindMap {
			return kerrors.Newf(kerrors.ScrubPathMissing, "scrub path %q not found", p)
		}
		if _, ok := parent.Map.Get(leaf); !ok {
			return kerrors.Newf(kerrors.ScrubPathMissing, "scrub path %q not found", p)
		}
		parent.Map.Delete(leaf)
	}
	return nil
}

func stringList(n *tree.Node) []string {
	if n == nil {
		return nil
	}
	if n.Kind == tree.KindString {
		return []string{n.String}
	}
	if n.Kind == tree.KindList {
		out := make([]string, 0, len(n.List))
		for _, item := range n.List {
			if item.Kind == tree.KindString {
				out = append(out, item.String)
			}
		}
		return out
	}
	return nil
}
