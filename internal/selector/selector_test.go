package selector

import (
	"encoding/json"
	"testing"

	"github.com/SoonIter/mnpm/internal/registry"
)

func fixtureMetadata(t *testing.T) registry.Metadata {
	t.Helper()
	var meta registry.Metadata
	raw := `{
		"name": "react",
		"dist-tags": {"latest": "1.0.0"},
		"versions": {
			"0.1.2": {"name": "react", "version": "0.1.2", "dist": {"tarball": "https://example.com/react-0.1.2.tgz", "shasum": "a"}},
			"1.0.0": {"name": "react", "version": "1.0.0", "dist": {"tarball": "https://example.com/react-1.0.0.tgz", "shasum": "b"}}
		}
	}`
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return meta
}

// S5: latest resolution.
func TestSelect_Latest(t *testing.T) {
	meta := fixtureMetadata(t)
	vm, err := Select(meta, "latest")
	if err != nil {
		t.Fatalf("Select(latest): %v", err)
	}
	if vm.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", vm.Version)
	}
}

// S6: semver range resolution, newest-first.
func TestSelect_SemverRange(t *testing.T) {
	meta := fixtureMetadata(t)
	vm, err := Select(meta, "^0.1.2")
	if err != nil {
		t.Fatalf("Select(^0.1.2): %v", err)
	}
	if vm.Version != "0.1.2" {
		t.Errorf("Version = %q, want 0.1.2 (1.0.0 must not satisfy ^0.1.2)", vm.Version)
	}
}

func TestSelect_ExactVersion(t *testing.T) {
	meta := fixtureMetadata(t)
	vm, err := Select(meta, "1.0.0")
	if err != nil {
		t.Fatalf("Select(1.0.0): %v", err)
	}
	if vm.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", vm.Version)
	}
}

func TestSelect_MissingLatestTag(t *testing.T) {
	meta := fixtureMetadata(t)
	meta.DistTags = map[string]string{}
	if _, err := Select(meta, "latest"); err == nil {
		t.Fatal("expected an error when dist-tags has no latest entry")
	}
}

func TestSelect_NoMatch(t *testing.T) {
	meta := fixtureMetadata(t)
	if _, err := Select(meta, "^5.0.0"); err == nil {
		t.Fatal("expected an error when no version satisfies the range")
	}
}

func TestSelect_InvalidRange(t *testing.T) {
	meta := fixtureMetadata(t)
	if _, err := Select(meta, "not a range!!"); err == nil {
		t.Fatal("expected an error for an unparseable range")
	}
}

// Invariant 6: selection is deterministic for a fixed metadata snapshot.
func TestSelect_Deterministic(t *testing.T) {
	meta := fixtureMetadata(t)
	first, err := Select(meta, "^0.1.2")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Select(meta, "^0.1.2")
		if err != nil {
			t.Fatalf("Select (rerun %d): %v", i, err)
		}
		if again.Version != first.Version {
			t.Fatalf("Select is nondeterministic: %q vs %q", again.Version, first.Version)
		}
	}
}
