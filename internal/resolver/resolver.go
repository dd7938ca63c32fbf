// Package resolver expands a set of requested (name, range) pairs into the
// full transitive dependency graph by concurrently querying the registry.
package resolver

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/SoonIter/mnpm/internal/logging"
	"github.com/SoonIter/mnpm/internal/registry"
	"github.com/SoonIter/mnpm/internal/selector"
)

// DefaultConcurrency bounds the number of in-flight registry metadata
// fetches when the caller does not override it.
const DefaultConcurrency = 100

// metadataFetcher is the slice of *registry.Client the resolver depends on,
// narrowed so tests can supply a fake without standing up an HTTP server.
type metadataFetcher interface {
	FetchMetadata(ctx context.Context, name string) (registry.Metadata, error)
}

// ResolvedPackage is one concrete version reached during expansion, along
// with the already-resolved versions of its own declared dependencies.
type ResolvedPackage struct {
	Meta       registry.VersionMeta
	DirectDeps []registry.VersionMeta
	IsRoot     bool
}

// entry is what the resolver records for one (name, range) pair once its
// fetch and version selection have completed.
type entry struct {
	meta   registry.VersionMeta
	isRoot bool
}

// Resolver expands a requested package set into the full resolved graph.
type Resolver struct {
	client metadataFetcher
	sem    *semaphore.Weighted
}

// New returns a Resolver that never holds more than concurrency registry
// fetches in flight at once. concurrency <= 0 falls back to DefaultConcurrency.
// Resolve logs dropped-fetch warnings through whatever logger is attached to
// the context it is called with (see internal/logging.FromContext).
func New(client metadataFetcher, concurrency int64) *Resolver {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Resolver{
		client: client,
		sem:    semaphore.NewWeighted(concurrency),
	}
}

// round holds the mutable state shared by every task spawned during one
// Resolve call. It is owned by a single mutex; nothing about it survives
// past the call that created it.
type round struct {
	mu       sync.Mutex
	resolved map[string]map[string]entry // name -> range -> entry
	enqueued map[string]bool             // "name\x00range" already dispatched, resolved or not
	failed   int
}

func dispatchKey(name, rng string) string {
	return name + "\x00" + rng
}

// Resolve walks the dependency graph starting from requested, a map of
// top-level package name to version range. Every entry in requested carries
// is_root = true in the output; everything discovered transitively does not.
//
// Individual fetch or version-selection failures are logged and dropped,
// not propagated — a package whose metadata could not be retrieved is
// simply absent from the resolved set and from its dependents' DirectDeps,
// rather than aborting the whole install. Resolve itself only returns an
// error for a cancelled or expired context.
func (r *Resolver) Resolve(ctx context.Context, requested map[string]string) ([]ResolvedPackage, error) {
	logger := logging.FromContext(ctx)

	rd := &round{
		resolved: make(map[string]map[string]entry),
		enqueued: make(map[string]bool),
	}

	g, gctx := errgroup.WithContext(ctx)

	for name, rng := range requested {
		name, rng := name, rng
		rd.enqueued[dispatchKey(name, rng)] = true
		g.Go(func() error {
			return r.fetchOne(gctx, g, rd, logger, name, rng, true)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if rd.failed > 0 {
		logger.Warnf("resolver: %d package(s) dropped from the dependency graph after fetch or version-selection failures", rd.failed)
	}

	out := buildResolvedSet(rd)
	warnUnresolvedPeerDependencies(logger, out)
	return out, nil
}

// fetchOne resolves a single (name, range) pair, records it, and enqueues
// any newly-reachable dependency fetches onto g. The only error it returns
// upward is ctx.Err() by way of the semaphore and HTTP calls honoring
// cancellation; every other failure is logged and absorbed here.
func (r *Resolver) fetchOne(ctx context.Context, g *errgroup.Group, rd *round, logger *log.Logger, name, rng string, isRoot bool) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	meta, err := r.client.FetchMetadata(ctx, name)
	r.sem.Release(1)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warnf("resolver: skipping %s@%s: %v", name, rng, err)
		rd.mu.Lock()
		rd.failed++
		rd.mu.Unlock()
		return nil
	}

	vm, err := selector.Select(meta, rng)
	if err != nil {
		logger.Warnf("resolver: skipping %s@%s: %v", name, rng, err)
		rd.mu.Lock()
		rd.failed++
		rd.mu.Unlock()
		return nil
	}

	rd.mu.Lock()
	if rd.resolved[name] == nil {
		rd.resolved[name] = make(map[string]entry)
	}
	rd.resolved[name][rng] = entry{meta: vm, isRoot: isRoot}

	var toDispatch []struct{ name, rng string }
	for depName, depRange := range vm.Dependencies {
		if len(rd.resolved[depName]) == 0 {
			// No resolved entry for depName at all yet: known design gap,
			// the dependency is never queued from here. It can still be
			// reached if some other package's range happens to trigger it.
			continue
		}
		if _, ok := rd.resolved[depName][depRange]; ok {
			continue
		}
		key := dispatchKey(depName, depRange)
		if rd.enqueued[key] {
			continue
		}
		rd.enqueued[key] = true
		toDispatch = append(toDispatch, struct{ name, rng string }{depName, depRange})
	}
	rd.mu.Unlock()

	for _, d := range toDispatch {
		d := d
		g.Go(func() error {
			return r.fetchOne(ctx, g, rd, logger, d.name, d.rng, false)
		})
	}
	return nil
}

// warnUnresolvedPeerDependencies logs one warning per resolved package for
// every non-optional peerDependency name absent from the resolved set.
// Peer dependencies are never expanded into the graph or installed; this is
// purely a courtesy notice, matching the peer-dependency warning behavior of
// comparable package managers.
func warnUnresolvedPeerDependencies(logger *log.Logger, pkgs []ResolvedPackage) {
	present := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		present[p.Meta.Name] = true
	}
	for _, p := range pkgs {
		for peerName := range p.Meta.PeerDependencies {
			if present[peerName] {
				continue
			}
			if p.Meta.PeerDependenciesMeta[peerName].Optional {
				continue
			}
			logger.Warnf("resolver: %s@%s declares a peer dependency on %q, which is not in the resolved set", p.Meta.Name, p.Meta.Version, peerName)
		}
	}
}

// buildResolvedSet flattens the round's two-level (name, range) table into
// the final ResolvedPackage list: one entry per distinct (name, version),
// even though several ranges may have independently landed on it.
func buildResolvedSet(rd *round) []ResolvedPackage {
	type key struct{ name, version string }
	byVersion := make(map[key]*ResolvedPackage)

	for name, byRange := range rd.resolved {
		for _, e := range byRange {
			k := key{name, e.meta.Version}
			if existing, ok := byVersion[k]; ok {
				if e.isRoot {
					existing.IsRoot = true
				}
				continue
			}
			byVersion[k] = &ResolvedPackage{Meta: e.meta, IsRoot: e.isRoot}
		}
	}

	for k, pkg := range byVersion {
		for depName, depRange := range pkg.Meta.Dependencies {
			byRange, ok := rd.resolved[depName]
			if !ok {
				continue
			}
			depEntry, ok := byRange[depRange]
			if !ok {
				continue
			}
			pkg.DirectDeps = append(pkg.DirectDeps, depEntry.meta)
		}
		byVersion[k] = pkg
	}

	out := make([]ResolvedPackage, 0, len(byVersion))
	for _, pkg := range byVersion {
		out = append(out, *pkg)
	}
	return out
}

// FindByName returns every resolved version of name in pkgs, for callers
// (tests, the orchestrator) that need to look a package back up by name
// rather than by scanning the slice themselves.
func FindByName(pkgs []ResolvedPackage, name string) []ResolvedPackage {
	var out []ResolvedPackage
	for _, p := range pkgs {
		if p.Meta.Name == name {
			out = append(out, p)
		}
	}
	return out
}
