package outputs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory constructs an empty controller of one kind bound to a manager.
type Factory func(om *Manager) Controller

// Discoverer finds controllers of one kind. Implementations must not modify
// the manager; the caller merges results with Manager.MergeDiscovered.
type Discoverer interface {
	Discover(ctx context.Context, om *Manager) ([]Controller, error)
}

// DiscovererFunc adapts a function to Discoverer.
type DiscovererFunc func(ctx context.Context, om *Manager) ([]Controller, error)

func (f DiscovererFunc) Discover(ctx context.Context, om *Manager) ([]Controller, error) {
	return f(ctx, om)
}

// Registry maps record kinds to factories and discoverers.
type Registry struct {
	mu          sync.RWMutex
	factories   map[string]Factory
	kinds       map[string]string // lower-case name or alias -> kind
	discoverers map[string][]Discoverer
}

// NewRegistry returns a registry with the Null, Ethernet and Serial kinds
// and their legacy protocol aliases.
func NewRegistry() *Registry {
	r := &Registry{
		factories:   make(map[string]Factory),
		kinds:       make(map[string]string),
		discoverers: make(map[string][]Discoverer),
	}
	r.Register(KindNull, func(om *Manager) Controller { return NewNullController(om) }, "NULL")
	r.Register(KindEthernet, func(om *Manager) Controller { return NewEthernetController(om) },
		ProtocolE131, ProtocolArtNet, ProtocolDDP)
	r.Register(KindSerial, func(om *Manager) Controller { return NewSerialController(om) },
		ProtocolDMX, ProtocolOpenDMX, ProtocolPixelnet, ProtocolRenard, ProtocolLOR)
	return r
}

// Register adds or replaces a kind. Aliases resolve to the same factory.
func (r *Registry) Register(kind string, f Factory, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
	r.kinds[strings.ToLower(kind)] = kind
	for _, a := range aliases {
		r.kinds[strings.ToLower(a)] = kind
	}
}

// RegisterDiscoverer attaches a discoverer to a registered kind.
func (r *Registry) RegisterDiscoverer(kind string, d Discoverer) error {
	k, ok := r.ResolveKind(kind)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discoverers[k] = append(r.discoverers[k], d)
	return nil
}

// Kinds returns the registered kinds sorted by name.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// ResolveKind maps a kind or alias, case insensitively, to its kind.
func (r *Registry) ResolveKind(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// New returns an empty controller of the kind.
func (r *Registry) New(om *Manager, kind string) (Controller, error) {
	k, ok := r.ResolveKind(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	r.mu.RLock()
	f := r.factories[k]
	r.mu.RUnlock()
	return f(om), nil
}

// Create builds a controller from a record. An unknown kind returns
// ErrUnknownKind and no controller. A malformed record still returns the
// controller, with IsOk false, together with the problem.
func (r *Registry) Create(om *Manager, rec *Record, showDir string) (Controller, error) {
	c, err := r.New(om, rec.Kind)
	if err != nil {
		return nil, err
	}
	if err := c.Convert(rec, showDir); err != nil {
		return c, err
	}
	return c, nil
}

// Discover runs every discoverer of the kind concurrently. A kind without
// discoverers yields an empty slice. Results found before an error or the
// context deadline are still returned.
func (r *Registry) Discover(ctx context.Context, kind string, om *Manager) ([]Controller, error) {
	k, ok := r.ResolveKind(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	r.mu.RLock()
	ds := append([]Discoverer(nil), r.discoverers[k]...)
	r.mu.RUnlock()

	found := []Controller{}
	if len(ds) == 0 {
		return found, nil
	}

	type result struct {
		cs  []Controller
		err error
	}
	results := make(chan result, len(ds))
	var wg sync.WaitGroup
	for _, d := range ds {
		wg.Add(1)
		go func(d Discoverer) {
			defer wg.Done()
			cs, err := d.Discover(ctx, om)
			results <- result{cs, err}
		}(d)
	}
	wg.Wait()
	close(results)

	var firstErr error
	for res := range results {
		found = append(found, res.cs...)
		if res.err != nil && firstErr == nil {
			firstErr = res.err
		}
	}
	return found, firstErr
}

// DiscoverAll runs the discoverers of every registered kind. Controllers
// found before an error are still returned; errors are joined.
func (r *Registry) DiscoverAll(ctx context.Context, om *Manager) ([]Controller, error) {
	all := []Controller{}
	var errs []error
	for _, kind := range r.Kinds() {
		cs, err := r.Discover(ctx, kind, om)
		all = append(all, cs...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return all, errors.Join(errs...)
}
