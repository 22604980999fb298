// Package registry keeps the host application's location handlers, one table
// per capability, and finds the most specific handler for a target location.
//
// A Registry belongs to one session. Registration is last-write-wins per
// exact serialized location; lookups never mutate.
//
// Usage:
//
//	r := registry.New(logger)
//	r.SetRenderHandler(location.Location{"page": "/dash"}, fn)
//	m := r.FindRender(ann.Location)
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/location"
)

// Capability names a handler table.
type Capability string

const (
	CapRenderPosition Capability = "getAnnotationPosition"
	CapCapture        Capability = "onAnnotationCapture"
	CapClick          Capability = "onAnnotationClick"
)

var (
	// ErrInvalidLocation is returned when a registration key is not a flat
	// location.
	ErrInvalidLocation = errors.New("registry: invalid location")
	// ErrInvalidHandler is returned for nil handlers, handlers of the wrong
	// type for the capability, and unknown capabilities.
	ErrInvalidHandler = errors.New("registry: invalid handler")
)

type entry struct {
	key     string
	loc     location.Location
	handler any
}

// table keeps entries in registration order so that equally specific matches
// resolve to the first registered.
type table struct {
	entries []entry
	index   map[string]int
}

func (t *table) put(key string, loc location.Location, h any) {
	if i, ok := t.index[key]; ok {
		t.entries[i].handler = h
		return
	}
	t.index[key] = len(t.entries)
	t.entries = append(t.entries, entry{key: key, loc: loc, handler: h})
}

func (t *table) remove(key string) bool {
	i, ok := t.index[key]
	if !ok {
		return false
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	delete(t.index, key)
	for j := i; j < len(t.entries); j++ {
		t.index[t.entries[j].key] = j
	}
	return true
}

// Match is the result of a lookup. Found is false when nothing matched.
type Match struct {
	Handler  any
	Location location.Location
	Exact    bool
	Found    bool
}

// Registry holds the handler tables of one session.
type Registry struct {
	mu     sync.RWMutex
	tables map[Capability]*table
	logger *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	r.Clear()
	return r
}

// Clear drops every handler, e.g. on session teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables = map[Capability]*table{
		CapRenderPosition: {index: map[string]int{}},
		CapCapture:        {index: map[string]int{}},
		CapClick:          {index: map[string]int{}},
	}
}

// Register stores handler for the exact location under capability,
// replacing any previous handler for the same location.
func (r *Registry) Register(capability Capability, loc location.Location, handler any) error {
	if !location.IsLocation(loc) {
		return fmt.Errorf("%w: %v", ErrInvalidLocation, loc)
	}
	handler, err := checkHandler(capability, handler)
	if err != nil {
		return err
	}
	norm, err := location.Normalize(loc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	key := location.JSON(norm)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[capability].put(key, norm, handler)
	r.logger.Debug("registry: handler registered", "capability", capability, "location", key)
	return nil
}

// Unregister removes the handler registered for exactly loc. Removing a
// missing handler is not an error.
func (r *Registry) Unregister(capability Capability, loc location.Location) error {
	if !location.IsLocation(loc) {
		return fmt.Errorf("%w: %v", ErrInvalidLocation, loc)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[capability]
	if !ok {
		return fmt.Errorf("%w: unknown capability %q", ErrInvalidHandler, capability)
	}
	t.remove(location.JSON(loc))
	return nil
}

// SetAnnotationHandler is the older single entry point: a nil handler
// unregisters. serialized must be a JSON location.
//
// Deprecated: use the typed Set*Handler / Clear*Handler methods.
func (r *Registry) SetAnnotationHandler(capability Capability, serialized string, handler any) error {
	loc, err := location.Parse([]byte(serialized))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	if handler == nil {
		return r.Unregister(capability, loc)
	}
	return r.Register(capability, loc, handler)
}

// FindBestMatch returns the most specific handler whose location is a subset
// of target. Among equally specific handlers the first registered wins.
func (r *Registry) FindBestMatch(capability Capability, target location.Location) Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[capability]
	if !ok {
		return Match{}
	}

	var best Match
	bestKeys := -1
	for _, e := range t.entries {
		n := location.Specificity(e.loc)
		if n <= bestKeys {
			continue
		}
		if !location.Matches(target, e.loc) {
			continue
		}
		bestKeys = n
		best = Match{
			Handler:  e.handler,
			Location: e.loc,
			Exact:    location.Equal(target, e.loc),
			Found:    true,
		}
	}
	return best
}

// Len returns the number of handlers registered for capability.
func (r *Registry) Len(capability Capability) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tables[capability]; ok {
		return len(t.entries)
	}
	return 0
}

// checkHandler accepts the named handler type of capability or a func
// literal of the same signature, and returns it as the named type.
func checkHandler(capability Capability, h any) (any, error) {
	var out any
	switch capability {
	case CapRenderPosition:
		switch fn := h.(type) {
		case annotation.RenderHandler:
			if fn != nil {
				out = fn
			}
		case func(context.Context, annotation.Annotation, *annotation.Point) (*annotation.RenderPosition, error):
			if fn != nil {
				out = annotation.RenderHandler(fn)
			}
		}
	case CapCapture:
		switch fn := h.(type) {
		case annotation.CaptureHandler:
			if fn != nil {
				out = fn
			}
		case func(context.Context, annotation.CapturePosition, dom.Element) (*annotation.CaptureResult, error):
			if fn != nil {
				out = annotation.CaptureHandler(fn)
			}
		}
	case CapClick:
		switch fn := h.(type) {
		case annotation.ClickHandler:
			if fn != nil {
				out = fn
			}
		case func(context.Context, annotation.Annotation) error:
			if fn != nil {
				out = annotation.ClickHandler(fn)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unknown capability %q", ErrInvalidHandler, capability)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %T for %s", ErrInvalidHandler, h, capability)
	}
	return out, nil
}
