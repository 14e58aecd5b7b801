package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	syncErrors "github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/ledger"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/logging"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
)

// Decision is the outcome of applying a type's strategy to a conflict.
type Decision struct {
	Kind Kind

	// Manual is set when a human must decide; Resolution and Payload are
	// then empty.
	Manual bool

	Resolution ledger.Resolution
	Payload    record.Payload
}

type registryOptions struct {
	logger    *logging.Logger
	now       func() time.Time
	resolvers map[string]Resolver
	bindings  map[record.Type]Binding
}

// Option configures a Registry.
type Option interface{ apply(*registryOptions) }

type optionFn func(*registryOptions)

func (f optionFn) apply(o *registryOptions) { f(o) }

// WithLogger sets the registry logger.
func WithLogger(l *logging.Logger) Option {
	return optionFn(func(o *registryOptions) { o.logger = l })
}

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return optionFn(func(o *registryOptions) { o.now = now })
}

// WithResolver registers an extra named resolver at construction.
func WithResolver(name string, r Resolver) Option {
	return optionFn(func(o *registryOptions) { o.resolvers[name] = r })
}

// WithBindings replaces the default bindings. Types missing from bindings
// have no strategy until one is set.
func WithBindings(bindings map[record.Type]Binding) Option {
	return optionFn(func(o *registryOptions) {
		o.bindings = make(map[record.Type]Binding, len(bindings))
		for t, b := range bindings {
			o.bindings[t] = b
		}
	})
}

// Registry maps record types to strategy bindings. Reads are served from
// memory; Set persists to the store before the in-memory binding changes.
type Registry struct {
	store  ledger.Store
	logger *logging.Logger
	now    func() time.Time

	mu        sync.RWMutex
	bindings  map[record.Type]Binding
	resolvers map[string]Resolver
}

// NewRegistry creates a registry with the built-in resolvers and default
// bindings. store may be nil for a purely in-memory registry.
func NewRegistry(store ledger.Store, opts ...Option) *Registry {
	o := &registryOptions{
		now: time.Now,
		resolvers: map[string]Resolver{
			PostMerge:    PostResolver,
			ProfileMerge: ProfileResolver,
		},
		bindings: Defaults(),
	}
	for _, opt := range opts {
		opt.apply(o)
	}
	return &Registry{
		store:     store,
		logger:    logging.OrDiscard(o.logger).WithComponent(logging.Component("strategy")),
		now:       o.now,
		bindings:  o.bindings,
		resolvers: o.resolvers,
	}
}

// Load replaces defaults with the bindings persisted in the store.
// Persisted rows that no longer parse are skipped with a warning.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	recs, err := r.store.ListStrategies(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		b := Binding{Kind: Kind(rec.Strategy), Resolver: rec.Resolver, UpdatedAt: rec.LastUpdated}
		if err := r.checkLocked(rec.Type, b); err != nil {
			r.logger.WarnContext(ctx, "ignoring persisted strategy",
				slog.String("type", string(rec.Type)),
				slog.String("strategy", rec.Strategy),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.bindings[rec.Type] = b
	}
	return nil
}

// RegisterResolver adds or replaces a named custom resolver.
func (r *Registry) RegisterResolver(name string, res Resolver) error {
	if name == "" {
		return errors.New("resolver name is required")
	}
	if res == nil {
		return fmt.Errorf("resolver %q is nil", name)
	}
	r.mu.Lock()
	r.resolvers[name] = res
	r.mu.Unlock()
	return nil
}

// Resolvers returns the registered resolver names in sorted order.
func (r *Registry) Resolvers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.resolvers))
	for name := range r.resolvers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the binding for t.
func (r *Registry) Lookup(t record.Type) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[t]
	return b, ok
}

// Bindings returns a snapshot of every binding.
func (r *Registry) Bindings() map[record.Type]Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[record.Type]Binding, len(r.bindings))
	for t, b := range r.bindings {
		out[t] = b
	}
	return out
}

// Set binds t to kind. Custom uses the type's built-in resolver; use
// SetCustom to name another one.
func (r *Registry) Set(ctx context.Context, t record.Type, kind Kind) error {
	b := Binding{Kind: kind}
	if kind == Custom {
		b.Resolver = defaultResolver(t)
		if b.Resolver == "" {
			return syncErrors.NewValidationError(syncErrors.OpSetStrategy,
				fmt.Errorf("type %s has no built-in resolver; name one explicitly", t))
		}
	}
	return r.bind(ctx, t, b)
}

// SetCustom binds t to the named custom resolver.
func (r *Registry) SetCustom(ctx context.Context, t record.Type, resolver string) error {
	return r.bind(ctx, t, Binding{Kind: Custom, Resolver: resolver})
}

// Apply binds every entry of bindings, in type order.
func (r *Registry) Apply(ctx context.Context, bindings map[record.Type]Binding) error {
	types := make([]record.Type, 0, len(bindings))
	for t := range bindings {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	for _, t := range types {
		b := bindings[t]
		if b.Kind == Custom && b.Resolver == "" {
			b.Resolver = defaultResolver(t)
		}
		if err := r.bind(ctx, t, b); err != nil {
			return fmt.Errorf("strategy for %s: %w", t, err)
		}
	}
	return nil
}

func (r *Registry) bind(ctx context.Context, t record.Type, b Binding) error {
	b.UpdatedAt = r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkLocked(t, b); err != nil {
		return syncErrors.NewValidationError(syncErrors.OpSetStrategy, err)
	}
	if r.store != nil {
		err := r.store.PutStrategy(ctx, ledger.StrategyRecord{
			Type:        t,
			Strategy:    string(b.Kind),
			Resolver:    b.Resolver,
			LastUpdated: b.UpdatedAt,
		})
		if err != nil {
			return err
		}
	}
	r.bindings[t] = b

	r.logger.InfoContext(ctx, "merge strategy set",
		slog.String("type", string(t)),
		slog.String("strategy", string(b.Kind)),
		slog.String("resolver", b.Resolver),
	)
	return nil
}

func (r *Registry) checkLocked(t record.Type, b Binding) error {
	if !t.Valid() {
		return fmt.Errorf("unknown record type %q", t)
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if b.Kind == Custom {
		if _, ok := r.resolvers[b.Resolver]; !ok {
			return fmt.Errorf("resolver %q is not registered", b.Resolver)
		}
	}
	return nil
}

// Decide applies the strategy bound to t. Custom resolvers run without the
// registry lock held.
func (r *Registry) Decide(ctx context.Context, t record.Type, local, remote record.Payload) (Decision, error) {
	r.mu.RLock()
	b, ok := r.bindings[t]
	res := r.resolvers[b.Resolver]
	r.mu.RUnlock()

	if !ok {
		return Decision{}, syncErrors.NewNoStrategyError(syncErrors.OpResolve, fmt.Errorf("no merge strategy for type %q", t))
	}

	switch b.Kind {
	case LocalWins:
		return Decision{Kind: b.Kind, Resolution: ledger.ResolutionLocal, Payload: local}, nil
	case RemoteWins:
		return Decision{Kind: b.Kind, Resolution: ledger.ResolutionRemote, Payload: remote}, nil
	case Manual:
		return Decision{Kind: b.Kind, Manual: true}, nil
	case Custom:
		if res == nil {
			return Decision{}, syncErrors.NewNoStrategyError(syncErrors.OpResolve, fmt.Errorf("resolver %q is not registered", b.Resolver))
		}
		merged, err := res.Merge(ctx, local, remote)
		if err != nil {
			return Decision{}, fmt.Errorf("resolver %s: %w", b.Resolver, err)
		}
		if record.IsAbsent(merged) {
			return Decision{}, fmt.Errorf("%w: resolver %s returned no payload", ErrUnrecoverable, b.Resolver)
		}
		if err := record.Check(t, merged); err != nil {
			return Decision{}, fmt.Errorf("%w: resolver %s: %v", ErrUnrecoverable, b.Resolver, err)
		}
		return Decision{Kind: b.Kind, Resolution: ledger.ResolutionMerged, Payload: merged}, nil
	}
	return Decision{}, syncErrors.NewNoStrategyError(syncErrors.OpResolve, fmt.Errorf("unknown merge strategy %q for type %q", b.Kind, t))
}
