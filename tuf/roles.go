package tuf

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"io"
	"time"

	"github.com/pkg/errors"
)

// HashAlgo names a digest algorithm used in a FileInfo.
type HashAlgo string

const (
	HashSHA256 HashAlgo = "sha256"
	HashSHA512 HashAlgo = "sha512"
)

// SigningMethod names a signature algorithm. Only ed25519 is implemented;
// the type exists because it's a wire field, not because other methods
// are supported.
type SigningMethod string

const methodED25519 SigningMethod = "ed25519"

// Role is a named set of authorized KeyIDs plus an integer threshold. A
// document "satisfies role R" iff it carries at least R.Threshold valid
// signatures from distinct KeyIDs in R.KeyIDs (§3).
type Role struct {
	KeyIDs    []KeyID `json:"keyids"`
	Threshold int     `json:"threshold"`
}

func (r Role) keySet() map[KeyID]struct{} {
	set := make(map[KeyID]struct{}, len(r.KeyIDs))
	for _, id := range r.KeyIDs {
		set[id] = struct{}{}
	}
	return set
}

// FileInfo is the declared length and hash digests for a remote file.
type FileInfo struct {
	Length int64               `json:"length"`
	Hashes map[HashAlgo]string `json:"hashes"`
}

// Matches reports whether two FileInfos describe the same bytes: equal
// lengths and at least one shared algorithm with equal hex digest. When
// the receiver declares a SHA-256 digest, other must carry an equal one
// (§3); a SHA-256 digest present only in other is not required.
func (f FileInfo) Matches(other FileInfo) bool {
	if f.Length != other.Length {
		return false
	}
	if h, ok := f.Hashes[HashSHA256]; ok {
		if o, ok := other.Hashes[HashSHA256]; !ok || !hexEqual(h, o) {
			return false
		}
	}
	matched := false
	for algo, digest := range f.Hashes {
		if o, ok := other.Hashes[algo]; ok {
			if hexEqual(digest, o) {
				matched = true
			} else {
				return false
			}
		}
	}
	return matched
}

func hexEqual(a, b string) bool {
	ab, err1 := hex.DecodeString(a)
	bb, err2 := hex.DecodeString(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return subtle.ConstantTimeCompare(ab, bb) == 1
}

// VerifyReader streams rdr through every declared hash and the byte
// counter, returning an error the moment bytes don't match length or
// digest. Per TUF 5.5.2, length is checked along with every hash. Callers
// are responsible for calling this (or Matches against a computed
// FileInfo) before treating any downloaded bytes as trusted.
func (f FileInfo) VerifyReader(rdr io.Reader) error {
	type hashCheck struct {
		algo   HashAlgo
		expect []byte
		h      hash.Hash
	}
	var checks []hashCheck
	for algo, expectedHex := range f.Hashes {
		expect, err := hex.DecodeString(expectedHex)
		if err != nil {
			return errors.Wrapf(err, "decoding declared %s digest", algo)
		}
		var h hash.Hash
		switch algo {
		case HashSHA256:
			h = sha256.New()
		case HashSHA512:
			h = sha512.New()
		default:
			continue
		}
		checks = append(checks, hashCheck{algo, expect, h})
		rdr = io.TeeReader(rdr, h)
	}
	n, err := io.Copy(io.Discard, rdr)
	if err != nil {
		return errors.Wrap(err, "reading stream for file info verification")
	}
	if n != f.Length {
		return errors.Errorf("length mismatch: expected %d, got %d", f.Length, n)
	}
	for _, c := range checks {
		if subtle.ConstantTimeCompare(c.h.Sum(nil), c.expect) != 1 {
			return errors.Errorf("%s digest mismatch", c.algo)
		}
	}
	return nil
}

// FileMap is an ordered-on-the-wire mapping repository-relative path ->
// FileInfo. JSON objects don't preserve order on decode, but nothing in
// this client relies on FileMap iteration order; the "ordered" framing in
// spec.md concerns the wire format, not an in-memory guarantee.
type FileMap map[string]FileInfo

func (fm FileMap) clone() FileMap {
	out := make(FileMap, len(fm))
	for k, v := range fm {
		out[k] = v
	}
	return out
}

// Signature is a single signature entry in a signed envelope.
type Signature struct {
	KeyID  KeyID         `json:"keyid"`
	Method SigningMethod `json:"method"`
	Sig    string         `json:"sig"`
}

func (s Signature) decode() ([]byte, error) {
	return hex.DecodeString(s.Sig)
}

// --- Root -------------------------------------------------------------

// Root is the root role: it indicates which keys are authorized for all
// top-level roles, including itself.
type Root struct {
	Signed     SignedRoot  `json:"signed"`
	Signatures []Signature `json:"signatures"`
}

// SignedRoot is the signed payload of the root role.
type SignedRoot struct {
	Type               string           `json:"_type"`
	Version            int              `json:"version"`
	Expires            time.Time        `json:"expires"`
	ConsistentSnapshot bool             `json:"consistent_snapshot"`
	Keys               map[KeyID]Key    `json:"keys"`
	Roles              map[RoleName]Role `json:"roles"`
}

func (sr SignedRoot) canonicalJSON() ([]byte, error) { return marshalCanonical(sr) }

// keyEnv assembles the KeyEnv declared directly on this root document.
func (sr SignedRoot) keyEnv() (KeyEnv, error) {
	ke := newKeyEnv()
	if err := ke.add(sr.Keys); err != nil {
		return nil, err
	}
	return ke, nil
}

// --- Timestamp ----------------------------------------------------------

// Timestamp is the timestamp role: a FileMap with exactly one entry, for
// snapshot.json.
type Timestamp struct {
	Signed     SignedTimestamp `json:"signed"`
	Signatures []Signature     `json:"signatures"`
}

type SignedTimestamp struct {
	Type    string    `json:"_type"`
	Version int       `json:"version"`
	Expires time.Time `json:"expires"`
	Meta    FileMap   `json:"meta"`
}

func (st SignedTimestamp) canonicalJSON() ([]byte, error) { return marshalCanonical(st) }

func (st SignedTimestamp) snapshotFileInfo() (FileInfo, error) {
	fi, ok := st.Meta[snapshotFileName]
	if !ok {
		return FileInfo{}, errors.Errorf("timestamp missing %q entry", snapshotFileName)
	}
	return fi, nil
}

// --- Snapshot -------------------------------------------------------------

// Snapshot is the snapshot role: a FileMap covering root.json, mirrors.json
// and the index.
type Snapshot struct {
	Signed     SignedSnapshot `json:"signed"`
	Signatures []Signature    `json:"signatures"`
}

type SignedSnapshot struct {
	Type    string    `json:"_type"`
	Version int       `json:"version"`
	Expires time.Time `json:"expires"`
	Meta    FileMap   `json:"meta"`
}

func (ss SignedSnapshot) canonicalJSON() ([]byte, error) { return marshalCanonical(ss) }

// --- Mirrors ---------------------------------------------------------------

// Mirrors is the ordered list of mirror descriptors learned from the
// server, to be concatenated after the out-of-band list (§3, §4.6).
type Mirrors struct {
	Signed     SignedMirrors `json:"signed"`
	Signatures []Signature   `json:"signatures"`
}

type SignedMirrors struct {
	Type    string             `json:"_type"`
	Version int                `json:"version"`
	Expires time.Time          `json:"expires"`
	Mirrors []MirrorDescriptor `json:"mirrors"`
}

func (sm SignedMirrors) canonicalJSON() ([]byte, error) { return marshalCanonical(sm) }

// MirrorDescriptor is a single mirror entry.
type MirrorDescriptor struct {
	URLBase      string   `json:"urlBase"`
	ContentTypes []string `json:"content-types,omitempty"`
}

// --- Targets ----------------------------------------------------------------

// Targets is a per-package or per-delegation targets document: a FileMap
// of targets plus optional delegations.
type Targets struct {
	Signed     SignedTargets `json:"signed"`
	Signatures []Signature   `json:"signatures"`

	// delegateRole is the role name this document was fetched under; it
	// is not part of the wire format, only bookkeeping used while
	// building a RootTarget tree.
	delegateRole string
}

type SignedTargets struct {
	Type        string      `json:"_type"`
	Version     int         `json:"version"`
	Expires     time.Time   `json:"expires"`
	Targets     FileMap     `json:"targets"`
	Delegations Delegations `json:"delegations"`
}

func (st SignedTargets) canonicalJSON() ([]byte, error) { return marshalCanonical(st) }

// Delegations carries the keys and delegation roles declared by a
// Targets document, handing off authority for a subset of paths to
// another targets document.
type Delegations struct {
	Keys  map[KeyID]Key    `json:"keys"`
	Roles []DelegationRole `json:"roles"`
}

// DelegationRole names the delegate, its authorized keys/threshold, the
// path patterns it is allowed to claim, and whether it terminates the
// search (§4.3 Targets & delegation, step 3).
type DelegationRole struct {
	Role
	Name        string    `json:"name"`
	Paths       []string  `json:"paths"`
	Terminating bool      `json:"terminating"`
	compiled    []Pattern // lazily compiled, see compilePaths
}

// compilePaths compiles Paths into Patterns once, caching the result.
func (d *DelegationRole) compilePaths() ([]Pattern, error) {
	if d.compiled != nil {
		return d.compiled, nil
	}
	out := make([]Pattern, 0, len(d.Paths))
	for _, p := range d.Paths {
		pat, err := CompilePattern(p)
		if err != nil {
			return nil, errors.Wrapf(err, "compiling delegation path pattern %q", p)
		}
		out = append(out, pat)
	}
	d.compiled = out
	return out, nil
}

// matchesAny reports whether any of this delegation's path patterns match p.
func (d *DelegationRole) matchesAny(p string) (bool, error) {
	pats, err := d.compilePaths()
	if err != nil {
		return false, err
	}
	for _, pat := range pats {
		if _, ok := pat.Match(p); ok {
			return true, nil
		}
	}
	return false, nil
}

// RootTarget is the top-level targets document plus the flattened,
// precedence-ordered view of every delegate visited while resolving it.
// Grounded on the teacher's tuf/roles.go RootTarget/targetPrecedence.
type RootTarget struct {
	*Targets
	targetLookup     map[string]*Targets
	paths            FileMap
	targetPrecedence []*Targets
}

func newRootTarget() *RootTarget {
	return &RootTarget{
		targetLookup: make(map[string]*Targets),
		paths:        make(FileMap),
	}
}

// append records targ as the next entry in precedence order. The highest
// precedence path wins: if a lower-precedence delegate declares a path
// already claimed, it is ignored (§4.3 step 4, "the first match wins").
//
// restrict, when non-nil, is the DelegationRole that authorized targ: only
// paths matching one of its declared Paths patterns are folded into the
// flattened lookup, so a delegate cannot claim a target outside the scope
// it was delegated (§4.3 step 3). restrict is nil only for the top-level
// targets role, which has no pattern restriction.
func (rt *RootTarget) append(roleName string, targ *Targets, restrict *DelegationRole) error {
	targ.delegateRole = roleName
	rt.targetLookup[roleName] = targ
	rt.targetPrecedence = append(rt.targetPrecedence, targ)
	for name, fi := range targ.Signed.Targets {
		if restrict != nil {
			matched, err := restrict.matchesAny(name)
			if err != nil {
				return err
			}
			if !matched {
				continue
			}
		}
		if _, ok := rt.paths[name]; !ok {
			rt.paths[name] = fi
		}
	}
	return nil
}
