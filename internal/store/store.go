// Package store unpacks downloaded tarballs into the content-addressed
// package store.
package store

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/SoonIter/mnpm/internal/logging"
	"github.com/SoonIter/mnpm/internal/pathenc"
	"github.com/SoonIter/mnpm/internal/resolver"
)

// DefaultConcurrency bounds the number of tarballs unpacked at once when the
// caller does not override it.
const DefaultConcurrency = 16

const dirPerms = 0o755

// Fetcher is the slice of *registry.Client the store depends on.
type Fetcher interface {
	FetchTarball(ctx context.Context, url string) (io.ReadCloser, error)
}

// Store unpacks resolved packages' tarballs into a content-addressed root
// directory, one subtree per (name, version).
type Store struct {
	client      Fetcher
	root        string
	concurrency int
}

// New returns a Store rooted at root (pathenc.StoreDir by convention).
// concurrency <= 0 falls back to DefaultConcurrency. Download logs
// per-archive warnings through whatever logger is attached to the context it
// is called with (see internal/logging.FromContext).
func New(client Fetcher, root string, concurrency int) *Store {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Store{client: client, root: root, concurrency: concurrency}
}

// Download fetches and unpacks the tarball for every distinct distribution
// URL among pkgs, deduplicating entries that share a URL (registry aliasing
// or identical dist picks). It returns the subset of pkgs with IsRoot set,
// unchanged, to the caller — every root is returned
// regardless of whether its own archive happened to fail, matching the
// "failures are collected and reported but do not abort the batch" rule.
func (s *Store) Download(ctx context.Context, pkgs []resolver.ResolvedPackage) ([]resolver.ResolvedPackage, error) {
	logger := logging.FromContext(ctx)

	firstByURL := make(map[string]resolver.ResolvedPackage)
	for _, p := range pkgs {
		url := p.Meta.Dist.Tarball
		if url == "" {
			continue
		}
		if _, ok := firstByURL[url]; !ok {
			firstByURL[url] = p
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	var mu sync.Mutex
	var failed int

	for _, p := range firstByURL {
		p := p
		g.Go(func() error {
			if err := s.extractOne(gctx, p.Meta.Name, p.Meta.Version, p.Meta.Dist.Tarball); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warnf("store: failed to unpack %s@%s: %v", p.Meta.Name, p.Meta.Version, err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if failed > 0 {
		logger.Warnf("store: %d archive(s) failed to unpack", failed)
	}

	var roots []resolver.ResolvedPackage
	for _, p := range pkgs {
		if p.IsRoot {
			roots = append(roots, p)
		}
	}
	return roots, nil
}

// extractOne fetches the tarball at url and unpacks it under
// <root>/<name>@<version>.
func (s *Store) extractOne(ctx context.Context, name, version, url string) error {
	body, err := s.client.FetchTarball(ctx, url)
	if err != nil {
		return fmt.Errorf("fetch tarball: %w", err)
	}
	defer body.Close()

	gzr, err := gzip.NewReader(body)
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer gzr.Close()

	dest := pathenc.StorePath(s.root, name, version)
	if err := os.MkdirAll(dest, dirPerms); err != nil {
		return fmt.Errorf("create store destination %s: %w", dest, err)
	}

	tr := tar.NewReader(gzr)
	seen := make(map[string]bool)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		rel, _ := strings.CutPrefix(header.Name, "package/")
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" || rel == "." {
			continue
		}
		if seen[rel] {
			continue // malformed archive with a duplicate entry; first write wins
		}
		seen[rel] = true

		target := filepath.Join(dest, filepath.FromSlash(rel))
		if !withinDir(dest, target) {
			return fmt.Errorf("invalid file path in tarball: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirPerms); err != nil && !os.IsExist(err) {
				return fmt.Errorf("create directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), dirPerms); err != nil && !os.IsExist(err) {
				return fmt.Errorf("create directory for %s: %w", target, err)
			}
			if err := writeFile(target, tr, header.Mode); err != nil {
				return err
			}
		default:
			// symlinks, hardlinks, device files, etc. — not part of any
			// package this installer has needed to unpack; skip rather
			// than fail the whole archive over an unsupported entry.
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, mode int64) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(mode))
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write file %s: %w", target, err)
	}
	return f.Close()
}

// withinDir reports whether target is dest itself or a descendant of it,
// guarding against a tar entry whose name escapes the extraction root via
// ".." path segments (zip-slip).
func withinDir(dest, target string) bool {
	dest = filepath.Clean(dest)
	target = filepath.Clean(target)
	if target == dest {
		return true
	}
	return strings.HasPrefix(target, dest+string(os.PathSeparator))
}
