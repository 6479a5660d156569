package tuf

import "sync"

// Phase is one of the TrustState phases from §4.7.
type Phase int

const (
	// Bootstrap: only a trusted root is present.
	Bootstrap Phase = iota
	// Fresh: root, timestamp, snapshot and mirrors are all verified and
	// unexpired.
	Fresh
	// Updating: a check cycle is in progress.
	Updating
)

func (p Phase) String() string {
	switch p {
	case Bootstrap:
		return "bootstrap"
	case Fresh:
		return "fresh"
	case Updating:
		return "updating"
	default:
		return "unknown"
	}
}

// TrustState is the long-lived (for the life of one client invocation)
// record of what this client currently trusts: the current root, the
// last-accepted version of each periodic role, and the current phase.
// There are no terminal states; the process only lives as long as one
// client.Client does.
type TrustState struct {
	mu sync.Mutex

	phase Phase

	root      TrustedRoot
	hasRoot   bool
	timestamp int
	snapshot  int
	mirrors   int
}

// NewTrustState seeds a TrustState in Bootstrap phase from an
// already-accepted initial root.
func NewTrustState(root TrustedRoot) *TrustState {
	return &TrustState{phase: Bootstrap, root: root, hasRoot: true}
}

// Phase returns the current phase.
func (s *TrustState) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Root returns the currently trusted root.
func (s *TrustState) Root() (TrustedRoot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root, s.hasRoot
}

// BeginUpdate transitions Fresh/Bootstrap -> Updating, for the duration
// of one check-for-updates cycle.
func (s *TrustState) BeginUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = Updating
}

// EndUpdateOK transitions Updating -> Fresh and records the newly
// accepted versions.
func (s *TrustState) EndUpdateOK(root TrustedRoot, timestampVersion, snapshotVersion, mirrorsVersion int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = root
	s.hasRoot = true
	s.timestamp = timestampVersion
	s.snapshot = snapshotVersion
	s.mirrors = mirrorsVersion
	s.phase = Fresh
}

// EndUpdateFailed transitions Updating -> Fresh, leaving prior accepted
// state untouched (§4.7: "old state preserved").
func (s *TrustState) EndUpdateFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = Fresh
}

// InvalidateAfterRootChange transitions Fresh -> Bootstrap and forgets
// the timestamp/snapshot versions, so the next fetch of either is
// treated as first-use (§4.3, §4.7).
func (s *TrustState) InvalidateAfterRootChange(newRoot TrustedRoot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = newRoot
	s.hasRoot = true
	s.timestamp = 0
	s.snapshot = 0
	s.phase = Bootstrap
}

// LastVersions returns the last-accepted versions used as the
// monotonicity floor for the next check cycle.
func (s *TrustState) LastVersions() (timestamp, snapshot, mirrors int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timestamp, s.snapshot, s.mirrors
}
