package tuf

// Trusted values mark data as "verified under policy P" (§3). Each type
// below has an unexported field, so the only way to obtain one is to call
// into this package's verification pipeline (pipeline.go) — visibility
// does the job a private constructor would in a language with one,
// exactly as the design notes call for. Every consumer of role data
// outside this package is required to hold one of these, never a bare
// *Root/*Timestamp/etc.
//
// Projecting the wrapped value back out is always an explicit Unwrap()
// call, never an implicit conversion, so a downgrade is visible at every
// call site that performs one.

// TrustedRoot is a Root that has verified under both its own and (during
// rotation) the prior root's threshold.
type TrustedRoot struct{ value *Root }

func newTrustedRoot(r *Root) TrustedRoot { return TrustedRoot{value: r} }

// Unwrap returns the verified Root document.
func (t TrustedRoot) Unwrap() *Root { return t.value }

// TrustedTimestamp is a Timestamp that has verified under its root's
// timestamp role, with a version no lower than the last accepted one and
// an expiry strictly after the operation's `now`.
type TrustedTimestamp struct{ value *Timestamp }

func newTrustedTimestamp(t *Timestamp) TrustedTimestamp { return TrustedTimestamp{value: t} }

func (t TrustedTimestamp) Unwrap() *Timestamp { return t.value }

// TrustedSnapshot is a Snapshot that has verified both its FileInfo (as
// pinned by the trusted timestamp) and its signature threshold.
type TrustedSnapshot struct{ value *Snapshot }

func newTrustedSnapshot(s *Snapshot) TrustedSnapshot { return TrustedSnapshot{value: s} }

func (t TrustedSnapshot) Unwrap() *Snapshot { return t.value }

// TrustedMirrors is a Mirrors document that has verified its signature
// threshold.
type TrustedMirrors struct{ value *Mirrors }

func newTrustedMirrors(m *Mirrors) TrustedMirrors { return TrustedMirrors{value: m} }

func (t TrustedMirrors) Unwrap() *Mirrors { return t.value }

// TrustedTargets is the fully resolved targets tree: the top-level
// targets document plus every delegate visited while resolving it, each
// individually verified.
type TrustedTargets struct{ value *RootTarget }

func newTrustedTargets(rt *RootTarget) TrustedTargets { return TrustedTargets{value: rt} }

func (t TrustedTargets) Unwrap() *RootTarget { return t.value }

// Lookup returns the FileInfo for path if any visited delegate claims it,
// honoring precedence (the first delegate in depth-first visiting order
// to claim a path wins, §4.3 step 4).
func (t TrustedTargets) Lookup(path string) (FileInfo, bool) {
	fi, ok := t.value.paths[path]
	return fi, ok
}
