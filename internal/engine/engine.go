// Package engine schedules the synchronization work: the startup
// initialization pass over members, the extract and apply pumps, and the
// retention sweeper.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/federata/federata/internal/broker"
	"github.com/federata/federata/internal/catalog"
	"github.com/federata/federata/internal/extract"
	"github.com/federata/federata/internal/instrument"
	"github.com/federata/federata/internal/introspect"
	"github.com/federata/federata/internal/merge"
	"github.com/federata/federata/pkg/config"
	"github.com/federata/federata/pkg/encryption"
	"github.com/federata/federata/pkg/logger"
)

// Engine wires the pipeline components and drives them on periodic ticks
type Engine struct {
	cfg    *config.Config
	store  *catalog.Store
	broker *broker.Broker
	logger *logger.Logger

	introspector *introspect.Introspector
	instrumenter *instrument.Instrumenter
	extractor    *extract.Extractor
	merger       *merge.Merger

	initInterval      time.Duration
	extractInterval   time.Duration
	applyInterval     time.Duration
	retentionInterval time.Duration

	locks lockMap
}

// New assembles an engine from configuration. The secret encryptor guards
// member credentials and group keys under the process key.
func New(cfg *config.Config, store *catalog.Store, secrets *encryption.SecretEncryptor, log *logger.Logger) *Engine {
	b := broker.NewBroker(secrets, log)
	serverID := cfg.Get("server.id")

	return &Engine{
		cfg:    cfg,
		store:  store,
		broker: b,
		logger: log,

		introspector: introspect.NewIntrospector(store, log),
		instrumenter: instrument.NewInstrumenter(store, serverID, log),
		extractor: extract.NewExtractor(store, b, secrets, cfg.Get("archive.dir"),
			cfg.GetBool("sync.include_source"), log),
		merger: merge.NewMerger(store, b, secrets, log),

		initInterval:      cfg.GetDuration("initialize.interval", 60*time.Second),
		extractInterval:   cfg.GetDuration("extract.interval", 60*time.Second),
		applyInterval:     cfg.GetDuration("apply.interval", 120*time.Second),
		retentionInterval: cfg.GetDuration("retention.interval", 10*time.Minute),

		locks: lockMap{locks: make(map[string]*sync.Mutex)},
	}
}

// Run executes the startup initialization pass, then drives the pumps until
// the context is cancelled. Shutdown is cooperative: workers finish their
// current obligation and exit.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		e.pump(ctx, "initialize", e.initInterval, e.initTick)
	}()
	go func() {
		defer wg.Done()
		e.pump(ctx, "extract", e.extractInterval, e.extractTick)
	}()
	go func() {
		defer wg.Done()
		e.pump(ctx, "apply", e.applyInterval, e.applyTick)
	}()
	go func() {
		defer wg.Done()
		e.pump(ctx, "retention", e.retentionInterval, e.retentionTick)
	}()
	wg.Wait()

	e.broker.Close()
	return ctx.Err()
}

// pump runs one tick immediately and then on every interval until cancelled
func (e *Engine) pump(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	e.logger.Infof("Starting %s pump (interval %s)", name, interval)
	tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Infof("Stopping %s pump", name)
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// initTick connects every registered member, refreshes its metadata and
// instruments members that have not been initialized yet. Failures are
// logged and retried on the next tick, and members registered while the
// engine runs are picked up the same way.
func (e *Engine) initTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, e.initInterval)
	defer cancel()

	members, err := e.store.ListMembers(tickCtx)
	if err != nil {
		e.logger.Errorf("Failed to list members: %v", err)
		return
	}

	for i := range members {
		e.initializeMember(tickCtx, &members[i])
	}
}

func (e *Engine) initializeMember(ctx context.Context, member *catalog.Member) {
	h, err := e.broker.Open(ctx, member)
	if err != nil {
		e.markConnection(ctx, member.ID, false)
		e.logger.Errorf("Failed to connect to member %s: %v", member.ID, err)
		return
	}
	e.markConnection(ctx, member.ID, true)

	if member.IsInitialized {
		return
	}

	// Instrumentation DDL must not race an in-flight extraction
	mu := e.locks.get(member.ID + "/extract")
	mu.Lock()
	defer mu.Unlock()

	if err := e.introspector.Refresh(ctx, h, member); err != nil {
		e.logger.Errorf("Failed to introspect member %s: %v", member.ID, err)
		return
	}
	if err := e.instrumenter.InstrumentMember(ctx, h, member); err != nil {
		e.logger.Errorf("Failed to instrument member %s: %v", member.ID, err)
		return
	}
	// Instrumentation added columns and tombstone tables; read them back
	if err := e.introspector.Refresh(ctx, h, member); err != nil {
		e.logger.Errorf("Failed to refresh member %s after instrumentation: %v", member.ID, err)
	}
}

// handleMemberError records connection failures against the member and
// invalidates its cached handle so the next tick reconnects
func (e *Engine) handleMemberError(ctx context.Context, memberID string, err error) {
	if errors.Is(err, ErrConnectionFailure) {
		e.markConnection(ctx, memberID, false)
		e.broker.Invalidate(memberID)
	}
}

func (e *Engine) markConnection(ctx context.Context, memberID string, ok bool) {
	if err := e.store.MarkMemberConnection(ctx, memberID, ok); err != nil {
		e.logger.Errorf("Failed to record connection state of member %s: %v", memberID, err)
	}
}

// lockMap hands out one mutex per key, keyed by member and direction so
// the same member never runs two extracts or two applies concurrently
type lockMap struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *lockMap) get(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}
