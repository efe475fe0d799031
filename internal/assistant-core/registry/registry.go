package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/hertz/pkg/common/hlog"

	"assistant-dispatch-service/internal/models"
)

var (
	ErrUnknownTaskType = errors.New("task type is not registered")
	ErrHandlerNotFound = errors.New("no handler registered for kind")
	ErrInvalidEntry    = errors.New("invalid registry entry")
)

// Handler is the single capability every assistant implements. Expected
// business failures are returned as a failure-shaped result; a non-nil error
// is reserved for infrastructure faults and is retried by the engine.
type Handler interface {
	Execute(ctx context.Context, cfg models.TaskConfig) (interface{}, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, cfg models.TaskConfig) (interface{}, error)

func (f HandlerFunc) Execute(ctx context.Context, cfg models.TaskConfig) (interface{}, error) {
	return f(ctx, cfg)
}

// Factory constructs a handler for an entry. Factories must not run handler
// logic; the health checker calls them to check resolvability.
type Factory func(entry Entry) (Handler, error)

// Catalog maps handler kinds to factories.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

func (c *Catalog) RegisterKind(kind string, factory Factory) {
	hlog.Debugf("Registry: registering handler kind %s", kind)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[kind] = factory
}

// Build resolves an entry's handler without executing it.
func (c *Catalog) Build(entry Entry) (Handler, error) {
	c.mu.RLock()
	factory, ok := c.factories[entry.Handler]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (task type %s)", ErrHandlerNotFound, entry.Handler, entry.TaskType)
	}
	h, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s handler for task type %s: %w", entry.Handler, entry.TaskType, err)
	}
	if h == nil {
		return nil, fmt.Errorf("%s factory returned no handler for task type %s", entry.Handler, entry.TaskType)
	}
	return h, nil
}

func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]string, 0, len(c.factories))
	for k := range c.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Binding is a resolved registry entry whose handler has not been loaded yet.
type Binding struct {
	Entry   Entry
	catalog *Catalog
}

// Load resolves the handler. A failure here is a load error, never retried.
func (b Binding) Load() (Handler, error) {
	if b.Entry.direct != nil {
		return b.Entry.direct, nil
	}
	if b.catalog == nil {
		return nil, fmt.Errorf("%w: no catalog for task type %s", ErrHandlerNotFound, b.Entry.TaskType)
	}
	return b.catalog.Build(b.Entry)
}

type snapshot struct {
	entries  map[string]Entry
	fallback bool
}

// Registry maps task types to handlers. Reads go through an immutable
// snapshot; every write publishes a whole new snapshot.
type Registry struct {
	catalog *Catalog
	source  string

	current atomic.Pointer[snapshot]

	mu     sync.Mutex
	loaded map[string]Entry
	direct map[string]Entry
}

// New returns an empty registry reading entries from source on Load.
func New(catalog *Catalog, source string) *Registry {
	r := &Registry{
		catalog: catalog,
		source:  source,
		loaded:  map[string]Entry{},
		direct:  map[string]Entry{},
	}
	r.current.Store(&snapshot{entries: map[string]Entry{}})
	return r
}

// Load reads the source. When it is missing or malformed the built-in set is
// installed instead and the cause is returned; the registry is usable either way.
func (r *Registry) Load() error {
	entries, err := LoadEntries(r.source)
	fallback := false
	if err != nil {
		hlog.Warnf("Registry: source %q unusable, falling back to built-in assistants: %v", r.source, err)
		entries = BuiltinEntries()
		fallback = true
	}
	r.install(entries, fallback)
	hlog.Infof("Registry: loaded %d task types (fallback=%t)", len(r.Keys()), fallback)
	return err
}

// Reload re-reads the source. A malformed source leaves the current snapshot
// in place.
func (r *Registry) Reload() error {
	entries, err := LoadEntries(r.source)
	if err != nil {
		hlog.Warnf("Registry: reload of %q failed, keeping current registry: %v", r.source, err)
		return err
	}
	r.install(entries, false)
	hlog.Infof("Registry: reloaded %d task types from %s", len(r.Keys()), r.source)
	return nil
}

// Register binds an in-process handler directly. Direct entries survive reloads
// and take precedence over loaded entries of the same task type.
func (r *Registry) Register(taskType string, h Handler) error {
	if err := validateTaskType(taskType); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("%w: nil handler for task type %s", ErrInvalidEntry, taskType)
	}
	hlog.Infof("Registry: registering handler for task type %s", taskType)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct[taskType] = Entry{TaskType: taskType, Handler: "direct", direct: h}
	r.publishLocked(r.current.Load().fallback)
	return nil
}

func (r *Registry) install(entries []Entry, fallback bool) {
	loaded := make(map[string]Entry, len(entries))
	for _, e := range entries {
		loaded[e.TaskType] = e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = loaded
	r.publishLocked(fallback)
}

func (r *Registry) publishLocked(fallback bool) {
	merged := make(map[string]Entry, len(r.loaded)+len(r.direct))
	for k, e := range r.loaded {
		merged[k] = e
	}
	for k, e := range r.direct {
		merged[k] = e
	}
	r.current.Store(&snapshot{entries: merged, fallback: fallback})
}

// Resolve returns the binding for taskType, or false when it is not registered.
func (r *Registry) Resolve(taskType string) (Binding, bool) {
	entry, ok := r.current.Load().entries[taskType]
	if !ok {
		return Binding{}, false
	}
	return Binding{Entry: entry, catalog: r.catalog}, true
}

// Keys returns the registered task types, sorted.
func (r *Registry) Keys() []string {
	entries := r.current.Load().entries
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Bindings returns every registered entry, sorted by task type.
func (r *Registry) Bindings() []Binding {
	entries := r.current.Load().entries
	out := make([]Binding, 0, len(entries))
	for _, e := range entries {
		out = append(out, Binding{Entry: e, catalog: r.catalog})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entry.TaskType < out[j].Entry.TaskType })
	return out
}

// UsingFallback reports whether the built-in set is installed because the
// source could not be read.
func (r *Registry) UsingFallback() bool {
	return r.current.Load().fallback
}

func (r *Registry) Source() string {
	return r.source
}
