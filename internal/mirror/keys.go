package mirror

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// WatchRoot is one local folder mirrored into the store. Name becomes the
// key segment identifying the root, so it must be unique across roots.
type WatchRoot struct {
	Name string
	Path string
}

// KeyMap translates absolute local paths to object keys of the form
// <prefix>/<root name>/<relative path>, always with forward slashes.
type KeyMap struct {
	prefix string
	roots  []WatchRoot
}

func NewKeyMap(prefix string, rootPaths []string) (*KeyMap, error) {
	if len(rootPaths) == 0 {
		return nil, fmt.Errorf("no roots configured")
	}

	seen := make(map[string]string, len(rootPaths))
	roots := make([]WatchRoot, 0, len(rootPaths))
	for _, rp := range rootPaths {
		clean := filepath.Clean(rp)
		name := filepath.Base(clean)
		if name == "." || name == string(filepath.Separator) {
			return nil, fmt.Errorf("root %q has no usable base name", rp)
		}
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("roots %q and %q map to the same name %q", prev, clean, name)
		}
		seen[name] = clean
		roots = append(roots, WatchRoot{Name: name, Path: clean})
	}

	// longest path first so nested lookups resolve to the deepest root
	sort.Slice(roots, func(i, j int) bool {
		return len(roots[i].Path) > len(roots[j].Path)
	})

	return &KeyMap{
		prefix: strings.Trim(prefix, "/"),
		roots:  roots,
	}, nil
}

func (m *KeyMap) Roots() []WatchRoot {
	return m.roots
}

// RootFor returns the root containing the given absolute path.
func (m *KeyMap) RootFor(absPath string) (WatchRoot, bool) {
	clean := filepath.Clean(absPath)
	for _, r := range m.roots {
		if clean == r.Path || strings.HasPrefix(clean, r.Path+string(filepath.Separator)) {
			return r, true
		}
	}
	return WatchRoot{}, false
}

// KeyFor maps an absolute local path to its object key.
func (m *KeyMap) KeyFor(absPath string) (string, error) {
	root, ok := m.RootFor(absPath)
	if !ok {
		return "", fmt.Errorf("path %q is outside every watched root", absPath)
	}
	rel, err := filepath.Rel(root.Path, filepath.Clean(absPath))
	if err != nil {
		return "", fmt.Errorf("relativize %q: %w", absPath, err)
	}
	return path.Join(m.prefix, root.Name, filepath.ToSlash(rel)), nil
}
