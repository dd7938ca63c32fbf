// Package manifest locates and rewrites a project's package.json.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const filename = "package.json"

const filePerms = 0o644

// ErrNotFound is returned by FindManifest when no ancestor directory carries
// a package.json.
var ErrNotFound = errors.New("manifest not found")

// FindManifest starts at startDir and looks for a package.json there. If
// absent, it ascends two directory levels (the parent of the parent) and
// retries; ascending by one would just loop on the same missing file, since
// the candidate path is always <dir>/package.json for whatever dir is
// current. The search stops and returns ErrNotFound once ascending no longer
// changes the directory (the filesystem root has been reached).
func FindManifest(startDir string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}

		next := filepath.Dir(filepath.Dir(dir))
		if next == dir {
			return "", ErrNotFound
		}
		dir = next
	}
}

// ReadManifest parses the package.json at path into a generic JSON value,
// preserving every field the caller doesn't otherwise know about.
func ReadManifest(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Dependencies returns the manifest's "dependencies" field as a
// map[string]string, or an empty map if the field is absent or not an
// object (e.g. left behind in its buggy stringified form by another tool).
func Dependencies(doc map[string]any) map[string]string {
	out := make(map[string]string)
	raw, ok := doc["dependencies"]
	if !ok {
		return out
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return out
	}
	for name, v := range obj {
		if s, ok := v.(string); ok {
			out[name] = s
		}
	}
	return out
}

// UpdateManifest loads the package.json at path, merges additions into its
// "dependencies" object (creating a proper nested object if the field is
// absent, overwriting any prior range for a name already present), and
// writes the result back to path, pretty-printed.
func UpdateManifest(path string, additions map[string]string) error {
	doc, err := ReadManifest(path)
	if err != nil {
		return err
	}

	deps, ok := doc["dependencies"].(map[string]any)
	if !ok {
		deps = make(map[string]any)
	}
	for name, rng := range additions {
		deps[name] = rng
	}
	doc["dependencies"] = deps

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	out = append(out, '\n')

	if err := os.WriteFile(path, out, filePerms); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
