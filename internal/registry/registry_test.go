package registry_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/npsg-lab/simq/domain"
	"github.com/npsg-lab/simq/internal/registry"
)

const abmbV1 = `
shortName: abmb_c
fullName: ABM-B
subtitle: Algorithmic BDF Model Bifacial
version: "1"
executable: /opt/models/abmb
parameters:
  - name: nSamples
    description: Number of samples
    kind: integer
    default: "10000"
    rangeStart: 1000
    rangeEnd: 100000
    step: 1
  - name: wavelengths
    description: Wavelengths
    kind: range
    rangeStart: 400
    rangeEnd: 2500
    step: 5
    units: nm
  - name: sieveDetourEffects
    description: Simulate sieve and detour effects
    kind: boolean
    default: "true"
attachments:
  - spectral_distribution.csv
  - reflectance.png
`

const abmbV2 = `
shortName: abmb_c
fullName: ABM-B
version: "2"
executable: /opt/models/abmb2
parameters:
  - name: nSamples
    description: Number of samples
    kind: integer
    default: "10000"
`

const abmbV10 = `
shortName: abmb_c
fullName: ABM-B
version: "10"
executable: /opt/models/abmb10
parameters:
  - name: nSamples
    description: Number of samples
    kind: integer
    default: "10000"
`

const abmuV3 = `
shortName: abmu_c
fullName: ABM-U
version: "3"
executable: /opt/models/abmu
parameters: []
`

func writeDescriptors(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

// TestScanAndLookup loads descriptors and exercises Get, GetLatest, and
// Versions.
func TestScanAndLookup(t *testing.T) {
	dir := writeDescriptors(t, map[string]string{
		"abmb_v1.yaml":  abmbV1,
		"abmb_v2.yaml":  abmbV2,
		"abmb_v10.yaml": abmbV10,
		"abmu_v3.yaml":  abmuV3,
		"notes.txt":     "not a descriptor",
	})

	r, err := registry.New(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	spec, err := r.Get("abmb_c", "1")
	if err != nil {
		t.Fatalf("Get(abmb_c, 1): %v", err)
	}
	if spec.FullName != "ABM-B" || len(spec.Parameters) != 3 {
		t.Errorf("unexpected spec: %+v", spec)
	}
	p := spec.Parameter("nSamples")
	if p == nil || p.RangeStart == nil || *p.RangeStart != 1000 {
		t.Errorf("nSamples constraints not loaded: %+v", p)
	}
	if len(spec.Attachments) != 2 {
		t.Errorf("attachments = %v", spec.Attachments)
	}

	// "10" must beat "9"-style lexicographic ordering and "2" alike.
	latest, err := r.GetLatest("abmb_c")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if latest.Version != "10" {
		t.Errorf("latest version = %s, want 10", latest.Version)
	}

	versions := r.Versions()
	want := domain.VersionSet{"abmb_c": {"1", "2", "10"}, "abmu_c": {"3"}}
	for name, vs := range want {
		got := versions[name]
		if len(got) != len(vs) {
			t.Fatalf("versions[%s] = %v, want %v", name, got, vs)
		}
		for i := range vs {
			if got[i] != vs[i] {
				t.Errorf("versions[%s] = %v, want %v", name, got, vs)
			}
		}
	}

	if _, err := r.Get("abmb_c", "9"); !errors.Is(err, domain.ErrModelNotFound) {
		t.Errorf("Get(unknown version): %v", err)
	}
	if _, err := r.GetLatest("missing"); !errors.Is(err, domain.ErrModelNotFound) {
		t.Errorf("GetLatest(missing): %v", err)
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "abmb_c" || names[1] != "abmu_c" {
		t.Errorf("Names = %v", names)
	}
}

// TestScanRejectsBadDescriptor verifies the initial scan is strict.
func TestScanRejectsBadDescriptor(t *testing.T) {
	dir := writeDescriptors(t, map[string]string{
		"ok.yaml":  abmuV3,
		"bad.yaml": "shortName: broken\nversion: \"1\"\n", // missing executable
	})
	if _, err := registry.New(dir, zerolog.Nop()); err == nil {
		t.Fatal("New accepted a descriptor with no executable")
	}

	if _, err := registry.New(filepath.Join(dir, "nope"), zerolog.Nop()); err == nil {
		t.Fatal("New accepted a missing directory")
	}
}
