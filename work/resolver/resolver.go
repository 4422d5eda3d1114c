package resolver

import (
	"context"
	"errors"
	"time"

	"nowshowing/work/config"
	"nowshowing/work/logger"
	"nowshowing/work/metrics"
	"nowshowing/work/prober"
	"nowshowing/work/registry"
	"nowshowing/work/urlbuild"
	"nowshowing/work/utils"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrNoSources is the one probe-adjacent condition that escalates to the
	// user: no registered provider supports the requested media kind at all.
	ErrNoSources = errors.New("no video sources available for this media kind")

	// ErrSessionNotFound covers expired, superseded and never-existed ids.
	ErrSessionNotFound = errors.New("resolution session not found")

	// ErrUnknownProvider is returned for a manual selection naming a provider
	// that is not a candidate of the session.
	ErrUnknownProvider = errors.New("provider is not a candidate in this session")
)

// Checker is the probing dependency: the prober satisfies it in production,
// tests substitute scripted verdicts.
type Checker interface {
	Check(ctx context.Context, url string) prober.Result
}

// ProgressRecorder receives fire-and-forget continue-watching updates
// whenever a candidate becomes active. Failures are the recorder's problem;
// the resolver never waits on it or reads it back.
type ProgressRecorder interface {
	RecordProgress(req urlbuild.PlaybackRequest, title, poster, provider string)
}

// Resolver orchestrates resolution sessions: it materializes candidate links
// for a playback request, fans probe checks out on the worker pool, applies
// completions as they arrive, and arbitrates automatic failover against
// manual selections.
type Resolver struct {
	cfg      *config.Config
	registry *registry.Registry
	checker  Checker
	pool     *ants.Pool
	recorder ProgressRecorder

	sessions *xsync.MapOf[string, *Session] // session id -> session
	byTitle  *xsync.MapOf[string, string]   // title id -> current session id

	stopCleanup chan struct{}
}

// New creates a Resolver. recorder may be nil when persistence is disabled.
func New(cfg *config.Config, reg *registry.Registry, checker Checker, pool *ants.Pool, recorder ProgressRecorder) *Resolver {
	return &Resolver{
		cfg:         cfg,
		registry:    reg,
		checker:     checker,
		pool:        pool,
		recorder:    recorder,
		sessions:    xsync.NewMapOf[string, *Session](),
		byTitle:     xsync.NewMapOf[string, string](),
		stopCleanup: make(chan struct{}),
	}
}

// SetRegistry swaps the provider registry for future sessions. Open sessions
// keep the snapshot they were built from. Used by the graceful reload path.
func (r *Resolver) SetRegistry(reg *registry.Registry) {
	r.registry = reg
}

// Open starts a resolution session for the given request.
//
// Sequence:
//  1. Build one candidate per provider supporting the request's kind, in
//     registry order. Zero candidates aborts with ErrNoSources and no session.
//  2. Pick the initial active candidate: the configured default provider when
//     it produced a candidate, else the first candidate.
//  3. Supersede any session open for the same title; its in-flight probe
//     results will find no session to apply to and get dropped.
//  4. Snapshot the session, then fan out one probe per candidate and arm the
//     watchdog. The snapshot returns before any probe result can apply, so
//     callers always render the full control set immediately.
func (r *Resolver) Open(req urlbuild.PlaybackRequest, title, poster string) (Snapshot, error) {
	var candidates []*Candidate
	for _, p := range r.registry.Providers() {
		url, ok := urlbuild.Build(p, req)
		if !ok {
			continue // provider does not apply; normal, not an error
		}
		candidates = append(candidates, &Candidate{Provider: p, URL: url})
	}
	if len(candidates) == 0 {
		return Snapshot{}, ErrNoSources
	}

	activeIdx := 0
	for i, c := range candidates {
		if c.Provider.Name == r.cfg.DefaultProvider {
			activeIdx = i
			break
		}
	}

	now := time.Now()
	sess := &Session{
		ID:         uuid.NewString(),
		Request:    req,
		Title:      title,
		Poster:     poster,
		candidates: candidates,
		activeIdx:  activeIdx,
		state:      StateInitializing,
		created:    now,
		touched:    now,
	}

	// Supersede the previous session for this title, if any.
	if oldID, ok := r.byTitle.Load(req.TitleID); ok {
		r.closeSession(oldID)
	}
	r.sessions.Store(sess.ID, sess)
	r.byTitle.Store(req.TitleID, sess.ID)
	metrics.SessionsOpen.Inc()

	logger.Debug("{resolver - Open} session %s: %d candidates for %s (%s), active=%s",
		sess.ID, len(candidates), req.TitleID, req.Kind, candidates[activeIdx].Provider.Name)

	r.recordProgress(sess, candidates[activeIdx].Provider.Name)

	sess.mu.Lock()
	sess.state = StateAwaitingProbes
	sess.watchdog = time.AfterFunc(r.cfg.WatchdogDelay, func() { r.fireWatchdog(sess.ID) })
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	r.launchProbes(sess)

	return snap, nil
}

// launchProbes submits one availability check per candidate to the worker
// pool. Each completion is tagged with the session id and candidate index;
// applyProbe drops it if the session has been superseded meanwhile. One slow
// provider never blocks the others: every check carries its own deadline
// inside the prober.
func (r *Resolver) launchProbes(sess *Session) {
	sessionID := sess.ID
	for i, c := range sess.candidates {
		idx, url := i, c.URL
		task := func() {
			result := r.checker.Check(context.Background(), url)
			r.applyProbe(sessionID, idx, result)
		}
		if err := r.pool.Submit(task); err != nil {
			// Pool saturated or released; the probe is best-effort
			// enhancement, so degrade to a plain goroutine.
			logger.Warn("{resolver - launchProbes} worker pool rejected probe: %v", err)
			go task()
		}
	}
}

// applyProbe is the single reducer for probe completions. It applies the
// result only when the session still exists and the candidate is still
// unknown: availability is a terminal write, a second completion for the
// same candidate is a no-op, and late results from superseded sessions are
// dropped because the session id no longer resolves.
func (r *Resolver) applyProbe(sessionID string, idx int, result prober.Result) {
	sess, ok := r.sessions.Load(sessionID)
	if !ok {
		logger.Debug("{resolver - applyProbe} dropping late probe result for superseded session %s", sessionID)
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if idx < 0 || idx >= len(sess.candidates) {
		return
	}
	c := sess.candidates[idx]
	if c.Availability != AvailabilityUnknown {
		return
	}

	if result.Available {
		c.Availability = AvailabilityAvailable
	} else {
		c.Availability = AvailabilityUnavailable
		c.Diagnostic = result.Error
		metrics.ProviderUnavailable.WithLabelValues(c.Provider.Name).Inc()
	}
	sess.resolved++

	logger.Debug("{resolver - applyProbe} session %s: %s -> %s", sessionID, c.Provider.Name, c.Availability)

	// Auto-failover: whenever the active link is known-unavailable, move to
	// the first known-available candidate in registry order. This covers
	// both orderings (the active link failing after an alternative proved
	// out, and an alternative proving out after the active link failed).
	// Still-unknown candidates never qualify here: a failing link is not
	// traded for one that may be failing too. Checking pinned keeps a
	// stale completion from overriding a just-made manual choice.
	if !sess.pinned && sess.state != StateSettled &&
		sess.candidates[sess.activeIdx].Availability == AvailabilityUnavailable {
		if next := sess.firstAvailableLocked(); next >= 0 {
			r.switchLocked(sess, next, "probe")
		}
	}

	if sess.resolved == len(sess.candidates) {
		r.settleLocked(sess)
	}
}

// fireWatchdog runs once per session, a bounded settle time after start: if
// the active link is marked unavailable by then, one last switch attempt is
// made, preferring known-available candidates over still-unknown ones.
// Either way the session settles and automatic switching ends.
func (r *Resolver) fireWatchdog(sessionID string) {
	sess, ok := r.sessions.Load(sessionID)
	if !ok {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state == StateSettled {
		return
	}

	if !sess.pinned && sess.candidates[sess.activeIdx].Availability == AvailabilityUnavailable {
		if next := sess.watchdogPickLocked(); next >= 0 {
			r.switchLocked(sess, next, "watchdog")
		} else {
			logger.Warn("{resolver - fireWatchdog} session %s: every candidate unavailable for %s",
				sessionID, sess.Request.TitleID)
		}
	}

	r.settleLocked(sess)
}

// switchLocked moves the active selection and records progress. Callers hold
// sess.mu.
func (r *Resolver) switchLocked(sess *Session, idx int, trigger string) {
	from := sess.candidates[sess.activeIdx].Provider.Name
	to := sess.candidates[idx].Provider.Name
	sess.activeIdx = idx
	metrics.Failovers.WithLabelValues(trigger).Inc()
	logger.Info("{resolver - switch} session %s: %s -> %s (%s)", sess.ID, from, to, trigger)
	r.recordProgress(sess, to)
}

// settleLocked ends the automatic phase. Callers hold sess.mu.
func (r *Resolver) settleLocked(sess *Session) {
	if sess.state == StateSettled {
		return
	}
	sess.state = StateSettled
	if sess.watchdog != nil {
		sess.watchdog.Stop()
	}
}

// Select applies a manual provider choice. It is synchronous, works in any
// state, and pins the session so no later probe completion or watchdog can
// override it.
func (r *Resolver) Select(sessionID, providerName string) (Snapshot, error) {
	sess, ok := r.sessions.Load(sessionID)
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	idx := -1
	for i, c := range sess.candidates {
		if c.Provider.Name == providerName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Snapshot{}, ErrUnknownProvider
	}

	sess.activeIdx = idx
	sess.pinned = true
	sess.touched = time.Now()
	logger.Debug("{resolver - Select} session %s: manual selection %s", sessionID, providerName)
	r.recordProgress(sess, providerName)

	return sess.snapshotLocked(), nil
}

// Get returns the current snapshot for a session.
func (r *Resolver) Get(sessionID string) (Snapshot, error) {
	sess, ok := r.sessions.Load(sessionID)
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.touched = time.Now()
	return sess.snapshotLocked(), nil
}

// ActiveURL returns the playback URL of the session's active candidate,
// logged obfuscated where configured.
func (r *Resolver) ActiveURL(sessionID string) (string, error) {
	sess, ok := r.sessions.Load(sessionID)
	if !ok {
		return "", ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	url := sess.candidates[sess.activeIdx].URL
	logger.Debug("{resolver - ActiveURL} session %s: %s", sessionID, utils.LogURL(r.cfg, url))
	return url, nil
}

// closeSession removes a session and stops its watchdog. In-flight probe
// completions for it become no-ops.
func (r *Resolver) closeSession(sessionID string) {
	sess, loaded := r.sessions.LoadAndDelete(sessionID)
	if !loaded {
		return
	}
	metrics.SessionsOpen.Dec()

	sess.mu.Lock()
	if sess.watchdog != nil {
		sess.watchdog.Stop()
	}
	sess.mu.Unlock()

	logger.Debug("{resolver - closeSession} session %s closed", sessionID)
}

// recordProgress hands a continue-watching update to the recorder without
// blocking the resolution path.
func (r *Resolver) recordProgress(sess *Session, provider string) {
	if r.recorder == nil {
		return
	}
	req, title, poster := sess.Request, sess.Title, sess.Poster
	go r.recorder.RecordProgress(req, title, poster, provider)
}

// StartCleanup launches the background sweep that expires sessions untouched
// for longer than the configured TTL.
func (r *Resolver) StartCleanup() {
	go func() {
		ticker := time.NewTicker(r.cfg.SessionTTL / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweepExpired()
			case <-r.stopCleanup:
				return
			}
		}
	}()
}

// StopCleanup terminates the background sweep.
func (r *Resolver) StopCleanup() {
	close(r.stopCleanup)
}

// sweepExpired closes sessions whose last touch is older than the TTL.
func (r *Resolver) sweepExpired() {
	cutoff := time.Now().Add(-r.cfg.SessionTTL)
	r.sessions.Range(func(id string, sess *Session) bool {
		sess.mu.Lock()
		expired := sess.touched.Before(cutoff)
		sess.mu.Unlock()
		if expired {
			r.byTitle.Compute(sess.Request.TitleID, func(cur string, loaded bool) (string, bool) {
				// only unmap the title if it still points at this session
				return cur, loaded && cur == id
			})
			r.closeSession(id)
		}
		return true
	})
}
