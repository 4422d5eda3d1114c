package resolver

import (
	"sync"
	"time"

	"nowshowing/work/registry"
	"nowshowing/work/urlbuild"
)

// Availability is the tri-state probe verdict for one candidate link.
// It transitions at most once, from unknown to a terminal value.
type Availability int

const (
	AvailabilityUnknown Availability = iota
	AvailabilityAvailable
	AvailabilityUnavailable
)

func (a Availability) String() string {
	switch a {
	case AvailabilityAvailable:
		return "available"
	case AvailabilityUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// State tracks a session through its lifecycle. Automatic failover only
// happens before Settled; manual selection works in any state.
type State int

const (
	StateInitializing State = iota
	StateAwaitingProbes
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateAwaitingProbes:
		return "awaitingProbes"
	case StateSettled:
		return "settled"
	default:
		return "initializing"
	}
}

// Candidate pairs one provider with the concrete playback URL it yields for
// the session's request. Providers that don't support the request's media
// kind never become candidates.
type Candidate struct {
	Provider     registry.Provider
	URL          string
	Availability Availability
	Diagnostic   string // optional probe error surfaced to the UI layer
}

// Session is the aggregate of one playback request's candidate links plus
// the active selection. All candidate/state mutation happens under mu; probe
// completions, the watchdog and manual selections contend on it, and manual
// selections always win by pinning the session.
type Session struct {
	ID      string
	Request urlbuild.PlaybackRequest
	Title   string // display title, carried through to continue-watching
	Poster  string

	mu         sync.Mutex
	candidates []*Candidate
	activeIdx  int
	state      State
	pinned     bool // a manual selection suppresses all later automatic switches
	resolved   int  // candidates whose probes have completed
	watchdog   *time.Timer
	created    time.Time
	touched    time.Time
}

// CandidateView is the wire representation of one candidate link.
type CandidateView struct {
	Provider     string `json:"provider"`
	URL          string `json:"url"`
	Availability string `json:"availability"`
	Active       bool   `json:"active"`
	Error        string `json:"error,omitempty"`
}

// Snapshot is a point-in-time copy of session state, safe to serialize
// without holding the session lock.
type Snapshot struct {
	ID             string          `json:"id"`
	TitleID        string          `json:"titleId"`
	MediaKind      string          `json:"mediaKind"`
	Season         int             `json:"season,omitempty"`
	Episode        int             `json:"episode,omitempty"`
	State          string          `json:"state"`
	ActiveProvider string          `json:"activeProvider"`
	Candidates     []CandidateView `json:"candidates"`
}

// snapshotLocked builds a Snapshot. Callers hold s.mu.
func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:             s.ID,
		TitleID:        s.Request.TitleID,
		MediaKind:      string(s.Request.Kind),
		Season:         s.Request.Season,
		Episode:        s.Request.Episode,
		State:          s.state.String(),
		ActiveProvider: s.candidates[s.activeIdx].Provider.Name,
		Candidates:     make([]CandidateView, len(s.candidates)),
	}
	for i, c := range s.candidates {
		snap.Candidates[i] = CandidateView{
			Provider:     c.Provider.Name,
			URL:          c.URL,
			Availability: c.Availability.String(),
			Active:       i == s.activeIdx,
			Error:        c.Diagnostic,
		}
	}
	return snap
}

// firstAvailableLocked returns the index of the first known-available
// candidate in registry order, excluding the current active one. Still
// unknown candidates do not qualify: a failing active link is not replaced
// by one that may be failing too. Returns -1 when nothing qualifies yet.
// Callers hold s.mu.
func (s *Session) firstAvailableLocked() int {
	for i, c := range s.candidates {
		if i != s.activeIdx && c.Availability == AvailabilityAvailable {
			return i
		}
	}
	return -1
}

// watchdogPickLocked implements the settle-time policy: prefer the first
// known-available candidate, else the first still-unknown one, else stick
// with what we have. Callers hold s.mu.
func (s *Session) watchdogPickLocked() int {
	for i, c := range s.candidates {
		if i != s.activeIdx && c.Availability == AvailabilityAvailable {
			return i
		}
	}
	for i, c := range s.candidates {
		if i != s.activeIdx && c.Availability == AvailabilityUnknown {
			return i
		}
	}
	return -1
}
