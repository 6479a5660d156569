package tuf

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// RoleName names the four top-level TUF roles plus mirrors, used throughout the error
// kinds and the role-document headers.
type RoleName string

const (
	RoleRoot      RoleName = "root"
	RoleSnapshot  RoleName = "snapshot"
	RoleTimestamp RoleName = "timestamp"
	RoleTargets   RoleName = "targets"
	RoleMirrors   RoleName = "mirrors"
)

// The error kinds below are the abstract tags from spec.md §7. Each is a
// concrete type so callers can type-switch or errors.As on it; each also
// implements error directly so it can be returned and wrapped with
// errors.Wrap without an extra adapter.

// ErrInvalidFileInfo reports a length or digest mismatch against a
// declared FileInfo.
type ErrInvalidFileInfo struct {
	File     string
	Expected FileInfo
	Actual   FileInfo
}

func (e *ErrInvalidFileInfo) Error() string {
	return fmt.Sprintf("file info mismatch for %q: expected %+v, got %+v", e.File, e.Expected, e.Actual)
}

// ErrUnknownKey reports a signature referring to a KeyID absent from the
// enclosing KeyEnv.
type ErrUnknownKey struct {
	KeyID KeyID
}

func (e *ErrUnknownKey) Error() string {
	return fmt.Sprintf("unknown key id %q", e.KeyID)
}

// ErrSignatureThresholdNotMet reports that fewer than the role's required
// threshold of distinct, valid signatures were present.
type ErrSignatureThresholdNotMet struct {
	Role RoleName
	Need int
	Got  int
}

func (e *ErrSignatureThresholdNotMet) Error() string {
	return fmt.Sprintf("role %q signature threshold not met: need %d, got %d", e.Role, e.Need, e.Got)
}

// ErrInvalidSignature reports a signature that failed cryptographic
// verification under an otherwise-known key.
type ErrInvalidSignature struct {
	KeyID KeyID
}

func (e *ErrInvalidSignature) Error() string {
	return fmt.Sprintf("invalid signature from key id %q", e.KeyID)
}

// ErrExpired reports a role document whose expires timestamp is not after
// the operation's `now`.
type ErrExpired struct {
	Role    RoleName
	Expires time.Time
}

func (e *ErrExpired) Error() string {
	return fmt.Sprintf("role %q expired at %s", e.Role, e.Expires.Format(time.RFC3339))
}

// ErrVersionRollback reports a candidate role document whose version is
// lower than the last accepted version.
type ErrVersionRollback struct {
	Role RoleName
	Have int
	Got  int
}

func (e *ErrVersionRollback) Error() string {
	return fmt.Sprintf("role %q version rollback: have %d, got %d", e.Role, e.Have, e.Got)
}

// ErrWrongType reports a `_type` discriminator mismatch.
type ErrWrongType struct {
	Expected string
	Got      string
}

func (e *ErrWrongType) Error() string {
	return fmt.Sprintf("expected _type %q, got %q", e.Expected, e.Got)
}

// ErrDelegationUnresolved reports a terminating delegation that rejected a
// target path lookup.
type ErrDelegationUnresolved struct {
	Path string
}

func (e *ErrDelegationUnresolved) Error() string {
	return fmt.Sprintf("path %q unresolved by terminating delegation", e.Path)
}

// UpdateImpossibleReason enumerates why an incremental index update
// couldn't even be attempted; it always downgrades to a full download,
// never fatal to the calling operation.
type UpdateImpossibleReason int

const (
	OnlyCompressed UpdateImpossibleReason = iota
	Unsupported
	NoLocalCopy
)

func (r UpdateImpossibleReason) String() string {
	switch r {
	case OnlyCompressed:
		return "only compressed format available"
	case Unsupported:
		return "server does not support byte ranges"
	case NoLocalCopy:
		return "no local copy to extend"
	default:
		return "unknown"
	}
}

// ErrUpdateImpossible reports that the preconditions for an incremental
// index update were not met.
type ErrUpdateImpossible struct {
	Reason UpdateImpossibleReason
}

func (e *ErrUpdateImpossible) Error() string {
	return fmt.Sprintf("incremental update impossible: %s", e.Reason)
}

// ErrUpdateFailed reports that an incremental update was attempted but
// failed partway; the caller falls back to a full download.
type ErrUpdateFailed struct {
	Cause error
}

func (e *ErrUpdateFailed) Error() string {
	return fmt.Sprintf("incremental update failed: %s", e.Cause)
}

func (e *ErrUpdateFailed) Unwrap() error { return e.Cause }

// ErrFileTooLarge reports a download that would exceed its declared or
// assumed size bound.
type ErrFileTooLarge struct {
	File  string
	Bound int64
}

func (e *ErrFileTooLarge) Error() string {
	return fmt.Sprintf("file %q exceeds size bound of %d bytes", e.File, e.Bound)
}

// ErrNoMirrorSelected is a programmer error: WithRemote was called outside
// any WithMirror scope.
var ErrNoMirrorSelected = errors.New("no mirror selected: with_remote called outside a with_mirror scope")

// ErrCustomTransport wraps a lower-layer transport error in the uniform
// error kind the repository interface promises its callers.
type ErrCustomTransport struct {
	Inner error
}

func (e *ErrCustomTransport) Error() string {
	return fmt.Sprintf("transport error: %s", e.Inner)
}

func (e *ErrCustomTransport) Unwrap() error { return e.Inner }
