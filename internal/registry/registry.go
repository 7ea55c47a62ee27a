// Package registry discovers model descriptors on disk and serves them to
// the queue and worker as an eventually consistent, read-only mapping from
// model short name to its available versions.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/npsg-lab/simq/domain"
)

// Registry holds the loaded model specs. Reads are served from an in-memory
// snapshot guarded by a RWMutex; a background rescan replaces the snapshot
// wholesale so callers never observe a half-loaded directory.
type Registry struct {
	dir    string
	logger zerolog.Logger

	mu     sync.RWMutex
	models map[string]map[string]*domain.ModelSpec

	cron *cron.Cron
}

// New creates a Registry over the given descriptor directory and performs the
// initial scan. It fails if the directory cannot be read or any descriptor is
// malformed; a running registry tolerates bad descriptors and skips them.
func New(dir string, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{dir: dir, logger: logger}
	models, err := r.scan(true)
	if err != nil {
		return nil, err
	}
	r.models = models
	return r, nil
}

// StartRescan begins rescanning the descriptor directory on the given cron
// spec (for example "@every 1m"). Call Stop to halt it.
func (r *Registry) StartRescan(spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		models, err := r.scan(false)
		if err != nil {
			r.logger.Error().Err(err).Msg("model rescan failed")
			return
		}
		r.mu.Lock()
		r.models = models
		r.mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("registry rescan schedule: %w", err)
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the background rescan, if one was started.
func (r *Registry) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// scan reads every *.yaml descriptor under the directory. In strict mode a
// malformed descriptor aborts the scan; otherwise it is logged and skipped.
func (r *Registry) scan(strict bool) (map[string]map[string]*domain.ModelSpec, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read model directory: %w", err)
	}

	models := make(map[string]map[string]*domain.ModelSpec)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		spec, err := loadDescriptor(path)
		if err != nil {
			if strict {
				return nil, err
			}
			r.logger.Warn().Err(err).Str("path", path).Msg("skipping bad model descriptor")
			continue
		}
		if models[spec.ShortName] == nil {
			models[spec.ShortName] = make(map[string]*domain.ModelSpec)
		}
		models[spec.ShortName][spec.Version] = spec
	}
	return models, nil
}

func loadDescriptor(path string) (*domain.ModelSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	var spec domain.ModelSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse descriptor %s: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", path, err)
	}
	return &spec, nil
}

// Get returns the spec for the named model at the given version, or
// domain.ErrModelNotFound.
func (r *Registry) Get(name, version string) (*domain.ModelSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrModelNotFound, name)
	}
	spec, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s version %s", domain.ErrModelNotFound, name, version)
	}
	return spec, nil
}

// GetLatest returns the spec with the greatest version tag for the named
// model (per compareVersions), or domain.ErrModelNotFound.
func (r *Registry) GetLatest(name string) (*domain.ModelSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.models[name]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrModelNotFound, name)
	}
	var latest string
	for v := range versions {
		if latest == "" || compareVersions(v, latest) > 0 {
			latest = v
		}
	}
	return versions[latest], nil
}

// compareVersions orders version tags by numeric dot-separated segments, so
// "10" sorts after "9" and "1.10" after "1.9". Segments that are not plain
// integers fall back to string comparison. Returns -1, 0, or 1.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
			continue
		}
		if as[i] != bs[i] {
			if as[i] < bs[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	default:
		return 0
	}
}

// Versions returns the full {name → [versions]} mapping, sorted for stable
// output. This is what a worker advertises when polling.
func (r *Registry) Versions() domain.VersionSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(domain.VersionSet, len(r.models))
	for name, versions := range r.models {
		vs := make([]string, 0, len(versions))
		for v := range versions {
			vs = append(vs, v)
		}
		sort.Slice(vs, func(i, j int) bool { return compareVersions(vs[i], vs[j]) < 0 })
		out[name] = vs
	}
	return out
}

// Names returns the sorted model short names currently loaded.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
