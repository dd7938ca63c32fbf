// Package selector chooses one concrete version from a package's registry
// metadata given a requested range or the "latest" distribution tag.
package selector

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/SoonIter/mnpm/internal/registry"
)

// LatestTag is the one distribution tag this installer consults. Arbitrary
// tags (next, beta, ...) are unsupported; extending to them means matching
// on the full tag name here instead of the literal constant below.
const LatestTag = "latest"

// Select returns the version metadata chosen for rng out of meta's
// advertised versions.
//
//   - rng == "latest": resolved via meta.DistTags["latest"], then looked up
//     directly in meta.Versions.
//   - otherwise: rng is parsed as a semver range and meta's versions are
//     walked newest-first in registry order (registry.Metadata.VersionOrder,
//     reversed); the first version that parses as valid semver and
//     satisfies the range wins. Iterating newest-first biases toward the
//     newest match, but ties between semver-equal versions are broken by
//     registry order, not semver precedence.
func Select(meta registry.Metadata, rng string) (registry.VersionMeta, error) {
	if rng == LatestTag {
		v, ok := meta.DistTags[LatestTag]
		if !ok {
			return registry.VersionMeta{}, &registry.Error{Kind: registry.KindVersionUnresolvable, Package: meta.Name, Err: fmt.Errorf("no %q dist-tag", LatestTag)}
		}
		vm, ok := meta.Versions[v]
		if !ok {
			return registry.VersionMeta{}, &registry.Error{Kind: registry.KindVersionUnresolvable, Package: meta.Name, Err: fmt.Errorf("%q dist-tag points at unknown version %q", LatestTag, v)}
		}
		return vm, nil
	}

	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return registry.VersionMeta{}, fmt.Errorf("%s: invalid range %q: %w", meta.Name, rng, err)
	}

	order := meta.VersionOrder()
	for i := len(order) - 1; i >= 0; i-- {
		raw := order[i]
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue // unparseable version string: skip, don't fail the whole selection
		}
		if constraint.Check(v) {
			return meta.Versions[raw], nil
		}
	}

	return registry.VersionMeta{}, &registry.Error{Kind: registry.KindVersionUnresolvable, Package: meta.Name, Err: fmt.Errorf("no version satisfies range %q", rng)}
}
