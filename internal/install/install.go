// Package install orchestrates a full installation run: recreating the
// store, resolving the dependency graph, downloading and linking packages,
// and recording the result back into the project manifest.
package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/log"

	"github.com/SoonIter/mnpm/internal/linker"
	"github.com/SoonIter/mnpm/internal/logging"
	"github.com/SoonIter/mnpm/internal/manifest"
	"github.com/SoonIter/mnpm/internal/pathenc"
	"github.com/SoonIter/mnpm/internal/registry"
	"github.com/SoonIter/mnpm/internal/resolver"
	"github.com/SoonIter/mnpm/internal/store"
)

const dirPerms = 0o755

// latestTag is the only dist-tag the selector consults; CLI-mode installs
// request it explicitly for every named package.
const latestTag = "latest"

// Config carries every orchestrator knob, sourced from CLI flags.
type Config struct {
	// ProjectRoot is the directory node_modules and the store are rooted
	// at. Empty means the process's current working directory.
	ProjectRoot string
	// Packages, when non-empty, switches the run into CLI mode: each name
	// is installed at "latest" instead of reading the manifest.
	Packages []string
	// StoreDir overrides the store root's directory name (default ".fpm").
	StoreDir string
	// Concurrency bounds in-flight resolver registry fetches.
	Concurrency int
	// DownloadConcurrency bounds concurrent tarball downloads.
	DownloadConcurrency int
	// RegistryURL overrides the registry base URL, for pointing at a
	// fixture server in tests.
	RegistryURL string
	// Verbose enables debug-level logging.
	Verbose bool
}

func (c Config) storeDir() string {
	if c.StoreDir != "" {
		return c.StoreDir
	}
	return pathenc.StoreDir
}

func (c Config) projectRoot() (string, error) {
	if c.ProjectRoot != "" {
		return c.ProjectRoot, nil
	}
	return os.Getwd()
}

// Run executes one full install according to cfg and returns a non-nil
// error on any unrecoverable failure — the caller (cmd/mnpm) maps that
// directly onto a nonzero exit code.
func Run(ctx context.Context, cfg Config) error {
	root, err := cfg.projectRoot()
	if err != nil {
		return fmt.Errorf("determine project root: %w", err)
	}

	logger := logging.New(os.Stderr, logging.LevelFor(cfg.Verbose))
	ctx = logging.WithLogger(ctx, logger)

	storeRoot := filepath.Join(root, cfg.storeDir())
	depsRoot := filepath.Join(root, pathenc.DepsRoot)
	if err := resetDir(storeRoot); err != nil {
		return fmt.Errorf("reset store root: %w", err)
	}
	if err := resetDir(depsRoot); err != nil {
		return fmt.Errorf("reset deps root: %w", err)
	}

	client := registry.New(cfg.RegistryURL)

	if len(cfg.Packages) == 0 {
		return runManifestDriven(ctx, cfg, root, storeRoot, client, logger)
	}
	return runCLIDriven(ctx, cfg, root, storeRoot, client, logger)
}

// runManifestDriven installs from the nearest ancestor manifest's
// "dependencies" field. A manifest with no dependencies field at all is a
// no-op success, matching §4.10; a missing manifest is fatal.
func runManifestDriven(ctx context.Context, cfg Config, root, storeRoot string, client *registry.Client, logger *log.Logger) error {
	path, err := manifest.FindManifest(root)
	if err != nil {
		return fmt.Errorf("locate manifest: %w", err)
	}
	doc, err := manifest.ReadManifest(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	requested := manifest.Dependencies(doc)
	if len(requested) == 0 {
		return nil
	}

	_, err = runPipeline(ctx, cfg, root, storeRoot, client, logger, requested)
	return err
}

// runCLIDriven installs each named package at "latest" and records the
// resolved version of every root back into the manifest as a caret range.
func runCLIDriven(ctx context.Context, cfg Config, root, storeRoot string, client *registry.Client, logger *log.Logger) error {
	requested := make(map[string]string, len(cfg.Packages))
	for _, name := range cfg.Packages {
		requested[name] = latestTag
	}

	roots, err := runPipeline(ctx, cfg, root, storeRoot, client, logger, requested)
	if err != nil {
		return err
	}

	additions := make(map[string]string, len(roots))
	for _, p := range roots {
		additions[p.Meta.Name] = "^" + p.Meta.Version
	}
	// Written to ./package.json in the project root unconditionally, even if
	// the manifest read side (manifest.FindManifest, used in manifest-driven
	// mode) would have ascended to find one further up — the write target is
	// always the project root's own manifest.
	path := filepath.Join(root, "package.json")
	manifestProgress := logging.NewProgress(logger)
	if err := manifest.UpdateManifest(path, additions); err != nil {
		return fmt.Errorf("update manifest: %w", err)
	}
	manifestProgress.Done("updated manifest")
	return nil
}

// runPipeline resolves, downloads, and links requested, returning the
// root-flagged subset of the resolved set for the caller's manifest update
// (manifest-driven mode ignores it).
func runPipeline(ctx context.Context, cfg Config, root, storeRoot string, client *registry.Client, logger *log.Logger, requested map[string]string) ([]resolver.ResolvedPackage, error) {
	res := resolver.New(client, int64(cfg.Concurrency))
	resolveProgress := logging.NewProgress(logger)
	pkgs, err := res.Resolve(ctx, requested)
	if err != nil {
		return nil, fmt.Errorf("resolve dependency graph: %w", err)
	}
	resolveProgress.Done(fmt.Sprintf("resolved %d package(s)", len(pkgs)))

	st := store.New(client, storeRoot, cfg.DownloadConcurrency)
	downloadProgress := logging.NewProgress(logger)
	roots, err := st.Download(ctx, pkgs)
	if err != nil {
		return nil, fmt.Errorf("download packages: %w", err)
	}
	downloadProgress.Done("downloaded packages")

	lk := linker.New(root, runtime.NumCPU())
	linkProgress := logging.NewProgress(logger)
	if err := lk.Link(ctx, pkgs); err != nil {
		return nil, fmt.Errorf("link node_modules: %w", err)
	}
	linkProgress.Done("linked node_modules")

	return roots, nil
}

// resetDir removes dir (ignoring a not-found error) and recreates it empty.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return os.MkdirAll(dir, dirPerms)
}
