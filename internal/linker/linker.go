// Package linker materializes a resolved dependency graph into node_modules
// by hard-linking store entries into a per-package virtual tree and
// symlinking the dependency and root edges between them.
package linker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/SoonIter/mnpm/internal/logging"
	"github.com/SoonIter/mnpm/internal/pathenc"
	"github.com/SoonIter/mnpm/internal/resolver"
)

// DefaultConcurrency bounds how many packages are linked at once within a
// single phase when the caller does not override it.
const DefaultConcurrency = 64

const dirPerms = 0o755

// Linker materializes resolved packages under projectRoot/node_modules.
type Linker struct {
	root        string
	storeRoot   string
	depsRoot    string
	concurrency int
}

// New returns a Linker rooted at projectRoot, the directory that will
// contain node_modules. concurrency <= 0 falls back to DefaultConcurrency.
// Link logs one line per failed package through whatever logger is attached
// to the context it is called with (see internal/logging.FromContext).
func New(projectRoot string, concurrency int) *Linker {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Linker{
		root:        projectRoot,
		storeRoot:   filepath.Join(projectRoot, pathenc.StoreDir),
		depsRoot:    filepath.Join(projectRoot, pathenc.DepsRoot),
		concurrency: concurrency,
	}
}

// Link runs the three linking phases in order: hard-link every resolved
// package into its virtual path (A), symlink each package's direct
// dependencies within its own virtual node_modules (B), then symlink every
// root package into the project's top-level node_modules (C). Each phase is
// internally parallel but the phases themselves are sequential — B would
// otherwise race Phase A's hard links, and keeping C after B is simpler to
// reason about even though nothing in C actually depends on B completing.
func (l *Linker) Link(ctx context.Context, pkgs []resolver.ResolvedPackage) error {
	logger := logging.FromContext(ctx)

	if err := l.runPhase(ctx, logger, pkgs, l.linkOnePhaseA); err != nil {
		return fmt.Errorf("linker phase A: %w", err)
	}
	if err := l.runPhase(ctx, logger, pkgs, l.linkOnePhaseB); err != nil {
		return fmt.Errorf("linker phase B: %w", err)
	}

	var roots []resolver.ResolvedPackage
	for _, p := range pkgs {
		if p.IsRoot {
			roots = append(roots, p)
		}
	}
	if err := l.runPhase(ctx, logger, roots, l.linkOnePhaseC); err != nil {
		return fmt.Errorf("linker phase C: %w", err)
	}
	return nil
}

func (l *Linker) runPhase(ctx context.Context, logger *log.Logger, pkgs []resolver.ResolvedPackage, fn func(resolver.ResolvedPackage) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, p := range pkgs {
		p := p
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := fn(p); err != nil {
				// A failure stops linking for this package only.
				logger.Warnf("linker: %s@%s: %v", p.Meta.Name, p.Meta.Version, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// linkOnePhaseA recursively hard-links p's store entry into its virtual
// path, never descending into a subdirectory named node_modules.
func (l *Linker) linkOnePhaseA(p resolver.ResolvedPackage) error {
	src := pathenc.StorePath(l.storeRoot, p.Meta.Name, p.Meta.Version)
	dst := filepath.Join(l.root, pathenc.VirtualPath(p.Meta.Name, p.Meta.Version))

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == src {
				// The package's tarball never unpacked successfully (a
				// Downloader failure already logged there); nothing to link.
				return nil
			}
			return err
		}
		if d.IsDir() && d.Name() == "node_modules" {
			return filepath.SkipDir
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, dirPerms)
		}
		if err := os.MkdirAll(filepath.Dir(target), dirPerms); err != nil {
			return err
		}
		if err := os.Link(path, target); err != nil && !os.IsExist(err) {
			return fmt.Errorf("hard-link %s -> %s: %w", path, target, err)
		}
		return nil
	})
}

// linkOnePhaseB symlinks every one of p's direct dependencies into p's own
// virtual node_modules.
func (l *Linker) linkOnePhaseB(p resolver.ResolvedPackage) error {
	parent := filepath.Join(l.root, pathenc.VirtualParent(p.Meta.Name, p.Meta.Version))
	for _, dep := range p.DirectDeps {
		link := filepath.Join(parent, filepath.FromSlash(dep.Name))
		if err := os.MkdirAll(filepath.Dir(link), dirPerms); err != nil {
			return fmt.Errorf("create scope directory for %s: %w", dep.Name, err)
		}
		target := pathenc.DepSymlinkTarget(dep.Name, dep.Version)
		if err := symlinkIdempotent(target, link); err != nil {
			return fmt.Errorf("symlink %s -> %s: %w", link, target, err)
		}
	}
	return nil
}

// linkOnePhaseC symlinks p, a root package, into the project's top-level
// node_modules.
func (l *Linker) linkOnePhaseC(p resolver.ResolvedPackage) error {
	link := filepath.Join(l.depsRoot, filepath.FromSlash(p.Meta.Name))
	if err := os.MkdirAll(filepath.Dir(link), dirPerms); err != nil {
		return fmt.Errorf("create scope directory for %s: %w", p.Meta.Name, err)
	}
	target := pathenc.RootSymlinkTarget(p.Meta.Name, p.Meta.Version)
	if err := symlinkIdempotent(target, link); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", link, target, err)
	}
	return nil
}

// symlinkIdempotent creates link -> target, treating an already-present
// symlink at that path as success rather than an error: concurrent tasks
// placing the identical link, or a second run of the linker, are benign.
func symlinkIdempotent(target, link string) error {
	err := os.Symlink(target, link)
	if err == nil {
		return nil
	}
	if !os.IsExist(err) {
		return err
	}
	existing, rerr := os.Readlink(link)
	if rerr == nil && existing == target {
		return nil
	}
	// A different link already occupies this path — replace it rather
	// than silently keeping the stale target.
	if err := os.Remove(link); err != nil {
		return err
	}
	return os.Symlink(target, link)
}
