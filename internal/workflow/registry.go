package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

type registration struct {
	source Source
	entry  Entry
}

// Registry resolves job types to templates. When two sources (or two files in
// one source) provide the same name, the first registration wins.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]registration
	cache      map[string]*Template
	classifier *Classifier
	logger     *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(classifier *Classifier, logger *slog.Logger) *Registry {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		entries:    make(map[string]registration),
		cache:      make(map[string]*Template),
		classifier: classifier,
		logger:     logger,
	}
}

// Register adds a template entry. Returns ErrDuplicateJobType if the name is
// already registered; the existing registration is kept.
func (r *Registry) Register(src Source, e Entry) error {
	if e.Name == "" {
		return fmt.Errorf("register template: empty name (%s)", e.Location)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[e.Name]; ok {
		return fmt.Errorf("%w: %q from %s already registered from %s",
			ErrDuplicateJobType, e.Name, e.Location, existing.entry.Location)
	}
	r.entries[e.Name] = registration{source: src, entry: e}
	return nil
}

// Discover lists every source in order and registers what it finds.
// Sources that cannot be listed are reported in the returned error but do
// not stop discovery of the remaining ones.
func (r *Registry) Discover(ctx context.Context, sources ...Source) (int, error) {
	var errs []error
	added := 0

	for _, src := range sources {
		entries, err := src.List(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Describe(), err))
			continue
		}
		for _, e := range entries {
			if err := r.Register(src, e); err != nil {
				r.logger.Warn("ignoring duplicate template", "jobType", e.Name, "location", e.Location, "source", src.Describe())
				continue
			}
			added++
			r.logger.Info("template registered", "jobType", e.Name, "location", e.Location, "source", src.Describe())
		}
	}

	if added == 0 {
		r.logger.Warn("no templates found", "sources", len(sources))
	}
	return added, errors.Join(errs...)
}

// Names returns registered job types, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns an independent copy of the template for jobType
func (r *Registry) Resolve(ctx context.Context, jobType string) (*Template, error) {
	r.mu.RLock()
	reg, ok := r.entries[jobType]
	cached := r.cache[jobType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
	if cached != nil {
		return cached.Clone(), nil
	}

	tmpl, err := r.load(ctx, jobType, reg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing := r.cache[jobType]; existing != nil {
		tmpl = existing
	} else {
		r.cache[jobType] = tmpl
	}
	r.mu.Unlock()

	return tmpl.Clone(), nil
}

func (r *Registry) load(ctx context.Context, jobType string, reg registration) (*Template, error) {
	data, err := reg.source.Read(ctx, reg.entry.Location)
	if err != nil {
		return nil, &TemplateLoadError{JobType: jobType, Location: reg.entry.Location, Err: err}
	}

	doc, err := DecodeDocument(data, reg.entry.Format)
	if err != nil {
		return nil, &TemplateLoadError{JobType: jobType, Location: reg.entry.Location, Err: err}
	}

	tmpl := NewTemplate(jobType, doc, r.classifier)
	r.logger.Debug("template loaded",
		"jobType", jobType,
		"nodes", len(tmpl.Nodes),
		"textInputs", len(tmpl.NodesWithRole(RoleTextInput)),
		"seedSources", len(tmpl.NodesWithRole(RoleSeedSource)))
	return tmpl, nil
}
