package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// moduleResolver caches module interfaces for one session and keeps the
// session engine in step with them.
type moduleResolver struct {
	source  InterfaceSource
	engine  Engine
	runtime *EngineRuntime
	logger  *slog.Logger

	mu      sync.Mutex // guards cache during Prefetch
	cache   map[ModuleID]*MoveModule
	fetches int
}

func newModuleResolver(source InterfaceSource, engine Engine, rt *EngineRuntime, logger *slog.Logger) *moduleResolver {
	return &moduleResolver{
		source:  source,
		engine:  engine,
		runtime: rt,
		logger:  logger,
		cache:   make(map[ModuleID]*MoveModule),
	}
}

func (r *moduleResolver) cached(id ModuleID) (*MoveModule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.cache[id]
	return m, ok
}

// fetch asks the source for a module without touching the cache.
func (r *moduleResolver) fetch(ctx context.Context, id ModuleID) (*MoveModule, error) {
	m, err := r.source.FetchModule(ctx, id)
	if err != nil {
		if errors.Is(err, ErrModuleNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("composer: fetch module %s: %w", id, err)
	}
	if m == nil {
		return nil, &ModuleNotFoundError{Module: id}
	}
	r.mu.Lock()
	r.fetches++
	r.mu.Unlock()
	return m, nil
}

// store caches m and loads it into the engine.
func (r *moduleResolver) store(id ModuleID, m *MoveModule) error {
	r.mu.Lock()
	r.cache[id] = m
	r.mu.Unlock()
	if err := r.engine.LoadModule(m); err != nil {
		return wrapEngineError(err, -1)
	}
	return nil
}

// resolve returns the interface of id, fetching it at most once per session.
func (r *moduleResolver) resolve(ctx context.Context, id ModuleID) (*MoveModule, error) {
	if m, ok := r.cached(id); ok {
		r.logger.DebugContext(ctx, "module interface cache hit", "module", id.String())
		return m, nil
	}
	m, err := r.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.store(id, m); err != nil {
		return nil, err
	}
	return m, nil
}

// supply installs a caller-provided interface for id. Only the identity is
// checked; the contents are trusted. The first interface seen for id wins:
// once the session holds one, a supplied module is ignored, matching the
// engine which keeps the first module it loads.
func (r *moduleResolver) supply(id ModuleID, m *MoveModule) (*MoveModule, error) {
	if m.ID() != id {
		return nil, fmt.Errorf("%w: got %s, calling %s", ErrModuleMismatch, m.ID(), id)
	}
	if cached, ok := r.cached(id); ok {
		if cached != m {
			r.logger.Debug("supplied module interface ignored, session already holds one", "module", id.String())
		}
		return cached, nil
	}
	if err := r.store(id, m); err != nil {
		return nil, err
	}
	return m, nil
}

// prefetch fetches every uncached module concurrently, then loads them into
// the engine in the order given.
func (r *moduleResolver) prefetch(ctx context.Context, ids []ModuleID) error {
	var pending []ModuleID
	seen := make(map[ModuleID]bool)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := r.cached(id); !ok {
			pending = append(pending, id)
		}
	}

	fetched := make([]*MoveModule, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range pending {
		g.Go(func() error {
			m, err := r.fetch(gctx, id)
			if err != nil {
				return err
			}
			fetched[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, id := range pending {
		if err := r.store(id, fetched[i]); err != nil {
			return err
		}
	}
	r.logger.DebugContext(ctx, "prefetched module interfaces", "requested", len(ids), "fetched", len(pending))
	return nil
}

// resolveTypeArgument turns a string, TypeTag or *TypeTag into a concrete
// TypeTag and loads every struct it names.
func (r *moduleResolver) resolveTypeArgument(ctx context.Context, raw any) (TypeTag, error) {
	var t TypeTag
	switch v := raw.(type) {
	case string:
		parsed, err := ParseTypeTag(v)
		if err != nil {
			return TypeTag{}, err
		}
		t = parsed
	case TypeTag:
		t = v
	case *TypeTag:
		if v == nil {
			return TypeTag{}, &TypeResolutionError{Input: "<nil>", Err: errors.New("nil type tag")}
		}
		t = *v
	default:
		return TypeTag{}, &TypeResolutionError{Input: fmt.Sprint(raw), Err: fmt.Errorf("unsupported type argument %T", raw)}
	}

	if err := t.Validate(); err != nil {
		return TypeTag{}, &TypeResolutionError{Input: fmt.Sprintf("<%T kind %d>", raw, t.Kind), Err: err}
	}
	if t.Kind == KindReference {
		return TypeTag{}, &TypeResolutionError{Input: t.String(), Err: errors.New("references cannot be type arguments")}
	}
	if !t.IsConcrete() {
		return TypeTag{}, &TypeResolutionError{Input: t.String(), Err: errors.New("generic placeholder is not declared by the script")}
	}

	for _, st := range t.structs() {
		id := st.ModuleID()
		if _, ok := r.cached(id); ok || r.runtime.InPrelude(id) {
			continue
		}
		if _, err := r.resolve(ctx, id); err != nil {
			return TypeTag{}, &TypeResolutionError{Input: t.String(), Err: err}
		}
	}
	if err := r.engine.LoadTypeTag(t); err != nil {
		var tre *TypeResolutionError
		if errors.As(err, &tre) {
			return TypeTag{}, err
		}
		return TypeTag{}, &TypeResolutionError{Input: t.String(), Err: err}
	}
	return t, nil
}

// fetchCount returns how many fetches the session issued.
func (r *moduleResolver) fetchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches
}

// wrapEngineError marks err as an engine rejection unless it already is.
func wrapEngineError(err error, callIndex int) error {
	var eve *EngineValidationError
	if errors.As(err, &eve) {
		return err
	}
	return &EngineValidationError{CallIndex: callIndex, Err: err}
}
