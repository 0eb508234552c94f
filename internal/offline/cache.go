// Package offline is the client-resident cache layer that keeps a participant
// device functioning when the live hub or content origin is unreachable.
// Cached content is organized in versioned generations with an explicit state
// machine, so activation and fallback behavior is deterministic and testable
// outside any browser-like host.
package offline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Cache layer failures surfaced to callers when no fallback exists.
var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrCacheInstallFailed = errors.New("cache install failed")
	ErrNoActiveGeneration = errors.New("no active cache generation")
)

// GenerationState is the lifecycle state of one cache generation.
type GenerationState string

const (
	StateInstalling        GenerationState = "installing"
	StateWaitingActivation GenerationState = "waiting_activation"
	StateActive            GenerationState = "active"
	StateSuperseded        GenerationState = "superseded"
)

// Generation is one installed shell snapshot at a content version.
type Generation struct {
	Version string
	State   GenerationState
}

// Fetcher retrieves a resource from the live origin. Any error is treated as
// a network failure.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Source tells the caller where a served payload came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
	SourceShell   Source = "shell"
)

// Request is one resource request evaluated against the cache policy.
type Request struct {
	Key        string
	Navigation bool // top-level navigation falls back to the shell when offline
}

// Result is a served payload and its source.
type Result struct {
	Payload []byte
	Source  Source
}

// Config holds cache manager settings.
type Config struct {
	// ShellKeys is the fixed resource set needed to render something at all.
	// The first key is the navigation entry point.
	ShellKeys []string
	// LiveEndpoint is the live-sync transport path; requests matching it are
	// never served from or written to cache.
	LiveEndpoint string
	// FetchTimeout bounds each live fetch; exceeding it is a network failure.
	FetchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	return c
}

const (
	genPrefix     = "gen/"
	runtimePrefix = "rt/"
)

// Manager implements the offline request-handling policy over a keyed store.
type Manager struct {
	mu  sync.Mutex
	cfg Config

	store   Store
	fetcher Fetcher
	logger  *zap.Logger

	generations []*Generation
	active      *Generation
	previous    *Generation

	// announced is the last content version announced by the hub; falls back
	// to the active generation's version while offline.
	announced string

	// clients is the number of live client contexts currently served; a
	// non-forced activation waits until it drops to zero.
	clients           int
	pendingActivation bool
}

// NewManager creates a cache manager over the given store and fetcher.
func NewManager(store Store, fetcher Fetcher, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg.withDefaults(),
		store:   store,
		fetcher: fetcher,
		logger:  logger,
	}
}

func genKey(version, key string) string { return genPrefix + version + "/" + key }

// Install fetches the full shell resource set for the given content version
// into a new generation. Installation is all-or-nothing: if any shell resource
// cannot be fetched, nothing is stored and ErrCacheInstallFailed is returned,
// leaving whatever generation was active before untouched. A partially cached
// shell would create false confidence that the app works offline.
func (m *Manager) Install(ctx context.Context, version string) (*Generation, error) {
	g := &Generation{Version: version, State: StateInstalling}

	staged := make(map[string][]byte, len(m.cfg.ShellKeys))
	for _, key := range m.cfg.ShellKeys {
		payload, err := m.fetch(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: shell resource %q: %v", ErrCacheInstallFailed, key, err)
		}
		staged[key] = payload
	}
	for key, payload := range staged {
		if err := m.store.Put(genKey(version, key), Entry{Version: version, Payload: payload}); err != nil {
			// Roll back anything already committed, unless an existing
			// generation of this version still owns the entries. Each Put
			// replaces a full entry, so whatever it kept stays servable.
			if !m.hasGeneration(version) {
				m.dropGenerationEntries(version)
			}
			return nil, fmt.Errorf("%w: store %q: %v", ErrCacheInstallFailed, key, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A reinstall of a known version reuses its generation. The store entries
	// were just rewritten under the same keys; a second Generation sharing the
	// prefix would let activation prune them out from under the surviving one.
	for i, existing := range m.generations {
		if existing.Version != version {
			continue
		}
		if existing.State != StateActive {
			existing.State = StateWaitingActivation
			m.generations = append(m.generations[:i], m.generations[i+1:]...)
			m.generations = append(m.generations, existing)
		}
		m.logger.Info("cache generation reinstalled", zap.String("version", version))
		return existing, nil
	}
	g.State = StateWaitingActivation
	m.generations = append(m.generations, g)
	m.logger.Info("cache generation installed", zap.String("version", version))
	return g, nil
}

// Activate promotes the newest waiting generation. Without force the promotion
// is deferred until no live client context is attached (the last ReleaseClient
// triggers it); force activates immediately, the "skip waiting" path. Only one
// generation is ever active.
func (m *Manager) Activate(force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !force && m.clients > 0 && m.active != nil {
		m.pendingActivation = true
		return nil
	}
	return m.activateLocked()
}

func (m *Manager) activateLocked() error {
	var next *Generation
	for _, g := range m.generations {
		if g.State == StateWaitingActivation {
			next = g // newest wins; list is append-ordered
		}
	}
	if next == nil {
		m.pendingActivation = false
		return ErrNoActiveGeneration
	}

	if m.active != nil && m.active != next {
		m.active.State = StateSuperseded
		m.previous = m.active
	}
	next.State = StateActive
	m.active = next
	m.pendingActivation = false

	// Every generation other than current and the immediate fallback is
	// deleted. One previous generation survives a botched deploy; anything
	// older is storage growth.
	kept := m.generations[:0]
	for _, g := range m.generations {
		if g == m.active || g == m.previous {
			kept = append(kept, g)
			continue
		}
		// A version still held by a kept generation keeps its store entries.
		if g.Version != m.active.Version && (m.previous == nil || g.Version != m.previous.Version) {
			m.dropGenerationEntries(g.Version)
		}
	}
	m.generations = kept
	m.logger.Info("cache generation activated", zap.String("version", m.active.Version))
	return nil
}

func (m *Manager) hasGeneration(version string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.generations {
		if g.Version == version {
			return true
		}
	}
	return false
}

func (m *Manager) dropGenerationEntries(version string) {
	keys, err := m.store.Keys()
	if err != nil {
		return
	}
	prefix := genPrefix + version + "/"
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			_ = m.store.Delete(k)
		}
	}
}

// AcquireClient marks one live client context as served by the active
// generation.
func (m *Manager) AcquireClient() {
	m.mu.Lock()
	m.clients++
	m.mu.Unlock()
}

// ReleaseClient detaches a client context; when the last one leaves a pending
// activation proceeds.
func (m *Manager) ReleaseClient() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clients > 0 {
		m.clients--
	}
	if m.clients == 0 && m.pendingActivation {
		_ = m.activateLocked()
	}
}

// ObserveVersion records the content version announced by the hub via
// position:changed or sync:state. Entries tagged with older versions become
// stale and are evicted lazily on next access, never eagerly: eager eviction
// while offline would delete content the user may still need right now.
func (m *Manager) ObserveVersion(version string) {
	m.mu.Lock()
	m.announced = version
	m.mu.Unlock()
}

// currentVersion returns the best-known content version: the announced one,
// or the active generation's when nothing newer was ever announced.
func (m *Manager) currentVersion() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.announced != "" {
		return m.announced
	}
	if m.active != nil {
		return m.active.Version
	}
	return ""
}

// ActiveGeneration returns the active generation, or nil.
func (m *Manager) ActiveGeneration() *Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Handle serves one resource request according to the offline policy:
//
//  1. live-sync transport requests bypass the cache entirely;
//  2. a cache entry at the current content version is served immediately;
//  3. otherwise a live fetch populates the runtime cache and is returned;
//  4. a failed fetch on a top-level navigation falls back to the cached shell
//     entry point, so the app always presents something navigable;
//  5. a failed fetch with no fallback surfaces the failure.
func (m *Manager) Handle(ctx context.Context, req Request) (Result, error) {
	if m.cfg.LiveEndpoint != "" && strings.HasPrefix(req.Key, m.cfg.LiveEndpoint) {
		payload, err := m.fetch(ctx, req.Key)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
		}
		return Result{Payload: payload, Source: SourceNetwork}, nil
	}

	// Shell resources are pinned to the active generation; supersession, not
	// version staleness, governs their lifetime.
	if active := m.ActiveGeneration(); active != nil {
		if e, ok, err := m.store.Get(genKey(active.Version, req.Key)); err == nil && ok {
			return Result{Payload: e.Payload, Source: SourceCache}, nil
		}
	}

	version := m.currentVersion()
	rtKey := runtimePrefix + req.Key
	if e, ok, err := m.store.Get(rtKey); err == nil && ok {
		if e.Version == version {
			return Result{Payload: e.Payload, Source: SourceCache}, nil
		}
		// Stale generation: lazy eviction on access.
		_ = m.store.Delete(rtKey)
	}

	payload, err := m.fetch(ctx, req.Key)
	if err == nil {
		_ = m.store.Put(rtKey, Entry{Version: version, Payload: payload})
		return Result{Payload: payload, Source: SourceNetwork}, nil
	}

	if req.Navigation {
		if shell, ok := m.shellEntry(); ok {
			m.logger.Debug("serving shell fallback", zap.String("key", req.Key))
			return Result{Payload: shell, Source: SourceShell}, nil
		}
	}
	return Result{}, fmt.Errorf("%w: %s: %v", ErrNetworkUnavailable, req.Key, err)
}

// shellEntry returns the cached shell entry point of the active generation.
func (m *Manager) shellEntry() ([]byte, bool) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil || len(m.cfg.ShellKeys) == 0 {
		return nil, false
	}
	e, ok, err := m.store.Get(genKey(active.Version, m.cfg.ShellKeys[0]))
	if err != nil || !ok {
		return nil, false
	}
	return e.Payload, true
}

// fetch runs one live fetch under the configured timeout.
func (m *Manager) fetch(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()
	return m.fetcher.Fetch(ctx, key)
}
