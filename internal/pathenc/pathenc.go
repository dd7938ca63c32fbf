// Package pathenc derives every filesystem path the installer touches from a
// package's (name, version) pair. It is the single source of truth for the
// store layout, the virtual hard-link mirror, and the relative symlink
// bodies that stitch node_modules together — keeping the encoding rules in
// one place avoids the two path families drifting out of sync.
package pathenc

import (
	"path"
	"strings"
)

// DepsRoot is the node module resolver's well-known dependency directory.
const DepsRoot = "node_modules"

// StoreDir is the local, content-addressed store directory name.
const StoreDir = ".fpm"

// Encode maps a package name to its filesystem-safe folder name. Scoped
// names (beginning with "@") have their "/" replaced with "+" so the scope
// and basename collapse into a single path segment; unscoped names pass
// through unchanged.
func Encode(name string) string {
	if IsScoped(name) {
		return strings.ReplaceAll(name, "/", "+")
	}
	return name
}

// IsScoped reports whether name is a scoped package name ("@scope/basename").
// The sole test, matching the registry's own convention, is a leading "@".
func IsScoped(name string) bool {
	return strings.HasPrefix(name, "@")
}

// StorePath returns the content-addressed extraction destination for
// (name, version), rooted at storeRoot (conventionally StoreDir). The raw
// name is used here, so scoped packages produce a path containing a "/".
func StorePath(storeRoot, name, version string) string {
	return path.Join(storeRoot, name+"@"+version)
}

// VirtualPath returns the per-package hard-link mirror path inside the
// project, e.g. "node_modules/.fpm/react@1.0.0/node_modules/react".
func VirtualPath(name, version string) string {
	return path.Join(DepsRoot, StoreDir, Encode(name)+"@"+version, DepsRoot, name)
}

// DepSymlinkTarget returns the relative link body used by a dependency
// symlink inside some package's local node_modules, pointing at depName's
// virtual path. The "../../" ascends out of "<name>/node_modules" back to
// the ".fpm" sibling level that holds every installed version.
func DepSymlinkTarget(depName, depVersion string) string {
	return path.Join("../..", Encode(depName)+"@"+depVersion, DepsRoot, depName)
}

// RootSymlinkTarget returns the relative link body used by a top-level
// node_modules/<name> symlink pointing into the local store. Scoped names
// need one extra ".." because the link itself lives one directory deeper
// (node_modules/@scope/name rather than node_modules/name).
func RootSymlinkTarget(name, version string) string {
	rest := path.Join(StoreDir, Encode(name)+"@"+version, DepsRoot, name)
	if IsScoped(name) {
		return path.Join("..", rest)
	}
	// path.Join(".", rest) would Clean() away the leading "./" that a
	// relative symlink body needs, so it's prepended directly here instead.
	return "./" + rest
}

// VirtualParent returns the directory that pkgName's own dependencies are
// symlinked into — the node_modules level shared by every package mirrored
// under the same <encoded>@<version> store entry. This is where node's
// upward node_modules search finds a package's direct dependencies.
//
// For scoped packages the virtual path has an extra "@scope" segment
// between this directory and the package's own files (VirtualPath ends in
// ".../node_modules/@scope/name"); that segment is never part of
// VirtualParent, which always lands one level above the package's
// node_modules, regardless of scoping.
func VirtualParent(pkgName, pkgVersion string) string {
	return path.Join(DepsRoot, StoreDir, Encode(pkgName)+"@"+pkgVersion, DepsRoot)
}
