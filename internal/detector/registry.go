package detector

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	boterrors "github.com/northboundlabs/botshield/internal/shared/errors"
)

// Registry holds every detector the process knows about, keyed by its
// stable name, plus the manifest metadata describing how it's scheduled.
// Mirrors the teacher's adapters.Registry: a thread-safe map of name ->
// implementation, empty at construction; built-ins and any others are
// added after it.
type Registry struct {
	mu        sync.RWMutex
	manifests map[string]Manifest
	detectors map[string]Detector
}

// NewRegistry creates an empty registry. Callers register detectors with
// Register before resolving any policy against it.
func NewRegistry() *Registry {
	return &Registry{
		manifests: make(map[string]Manifest),
		detectors: make(map[string]Detector),
	}
}

// Register adds a detector under the given manifest. A later call with the
// same manifest.Name replaces the earlier registration.
func (r *Registry) Register(m Manifest, d Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[m.Name] = m
	r.detectors[m.Name] = d
}

// RegisterManifest declares a detector's manifest without wiring in its
// implementation. Used when configuration references a detector by name
// ahead of the code that backs it; ValidateNames is what catches the gap
// if that wiring never lands, instead of the detector silently never
// running.
func (r *Registry) RegisterManifest(m Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[m.Name] = m
}

// Get returns a registered detector by name.
func (r *Registry) Get(name string) (Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[name]
	return d, ok
}

// Manifest returns the registered manifest for a name.
func (r *Registry) Manifest(name string) (Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[name]
	return m, ok
}

// DetectorsForPolicy resolves a set of detector names to their Detector
// implementations, ordered by (wave, priority) per spec §4.2. Unknown
// names are logged and skipped unless the manifest says Required, in
// which case startup should have already failed validation (see
// ValidateNames).
func (r *Registry) DetectorsForPolicy(names []string) []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type entry struct {
		d Detector
		m Manifest
	}
	var entries []entry
	for _, name := range names {
		d, ok := r.detectors[name]
		if !ok {
			log.Warn().Str("detector", name).Msg("unknown detector name in policy; skipped")
			continue
		}
		m := r.manifests[name]
		if !m.Enabled {
			continue
		}
		entries = append(entries, entry{d: d, m: m})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].m.Wave != entries[j].m.Wave {
			return entries[i].m.Wave < entries[j].m.Wave
		}
		return entries[i].m.Priority < entries[j].m.Priority
	})

	out := make([]Detector, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.d)
	}
	return out
}

// ValidateNames enforces spec §7's PolicyConfigError: every manifest marked
// enabled=true, required=true must resolve to an actual registered
// implementation, or startup refuses to continue. Declaring a manifest via
// RegisterManifest without a matching Register call is exactly the
// unresolved case this guards against.
func (r *Registry) ValidateNames() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, m := range r.manifests {
		if !m.Required || !m.Enabled {
			continue
		}
		if _, ok := r.detectors[name]; !ok {
			return boterrors.New(boterrors.KindPolicyConfigError, "required detector not registered: "+name)
		}
	}
	return nil
}

// Names returns every registered detector name, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.detectors))
	for name := range r.detectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
