// Command mnpm installs a project's npm dependencies: it resolves the
// dependency graph against a registry, downloads and unpacks tarballs into
// a local content-addressed store, and links the result into node_modules.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/thought-machine/go-flags"

	"github.com/SoonIter/mnpm/internal/install"
	"github.com/SoonIter/mnpm/internal/registry"
)

var opts = struct {
	StoreDir            string `long:"store-dir" default:".fpm" description:"Local store root directory"`
	Concurrency         int    `long:"concurrency" default:"100" description:"Resolver registry-fetch concurrency bound"`
	DownloadConcurrency int    `long:"download-concurrency" default:"16" description:"Downloader concurrency bound"`
	Registry            string `long:"registry" default:"https://registry.npmjs.org" description:"Registry base URL"`
	Verbose             bool   `short:"v" long:"verbose" description:"Enable debug logging"`

	Args struct {
		Packages []string `positional-arg-name:"packages" description:"Package names to install at latest (omit to install from package.json)"`
	} `positional-args:"true"`
}{
	Registry: registry.DefaultBaseURL,
}

func main() {
	os.Exit(run())
}

func run() int {
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return 1
	}

	cfg := install.Config{
		Packages:            opts.Args.Packages,
		StoreDir:            opts.StoreDir,
		Concurrency:         opts.Concurrency,
		DownloadConcurrency: opts.DownloadConcurrency,
		RegistryURL:         opts.Registry,
		Verbose:             opts.Verbose,
	}

	if err := install.Run(context.Background(), cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
