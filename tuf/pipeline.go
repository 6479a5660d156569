package tuf

import (
	"sort"
	"time"

	"github.com/pkg/errors"
)

const (
	typeRoot      = "Root"
	typeTimestamp = "Timestamp"
	typeSnapshot  = "Snapshot"
	typeMirrors   = "Mirrors"
	typeTargets   = "Targets"

	// maxDelegationCount bounds the delegation graph walk so an attacker
	// can't force the client to waste bandwidth/time chasing an
	// arbitrarily deep delegation tree (TUF 4.5.1; grounded on the
	// teacher's repo.go constant of the same name and purpose).
	maxDelegationCount = 50
)

func checkType(got, expected string) error {
	if got != expected {
		return &ErrWrongType{Expected: expected, Got: got}
	}
	return nil
}

func checkExpiry(roleName RoleName, expires, now time.Time) error {
	if !expires.After(now) {
		return &ErrExpired{Role: roleName, Expires: expires}
	}
	return nil
}

func checkVersionMonotone(roleName RoleName, have, got int) error {
	if got < have {
		return &ErrVersionRollback{Role: roleName, Have: have, Got: got}
	}
	return nil
}

// AcceptInitialRoot verifies a bootstrap root.json against its own
// embedded threshold (there is no prior root to cross-sign against on
// first install, per §3 "Root is seeded out-of-band").
func AcceptInitialRoot(r *Root, now time.Time) (TrustedRoot, error) {
	if err := checkType(r.Signed.Type, typeRoot); err != nil {
		return TrustedRoot{}, err
	}
	if err := checkExpiry(RoleRoot, r.Signed.Expires, now); err != nil {
		return TrustedRoot{}, err
	}
	ke, err := r.Signed.keyEnv()
	if err != nil {
		return TrustedRoot{}, err
	}
	rootRole, ok := r.Signed.Roles[RoleRoot]
	if !ok {
		return TrustedRoot{}, errors.New("root document missing root role entry")
	}
	signed, err := r.Signed.canonicalJSON()
	if err != nil {
		return TrustedRoot{}, err
	}
	if _, err := verifyEnvelope(RoleRoot, rootRole, ke, signed, r.Signatures); err != nil {
		return TrustedRoot{}, err
	}
	return newTrustedRoot(r), nil
}

// AcceptRootRotation implements §4.3's root update rule: candidate must
// verify under both the trusted root's root role and its own, its
// version must not regress (equal requires byte-identical canonical
// encoding and is a no-op), and it must not be expired. It returns the
// new trusted root plus whether the snapshot/timestamp role definitions
// changed in a way that invalidates cached snapshot/timestamp (§4.3,
// §4.7 Fresh --root-changed--> Bootstrap).
func AcceptRootRotation(candidate *Root, trusted TrustedRoot, now time.Time) (newRoot TrustedRoot, invalidate bool, err error) {
	old := trusted.Unwrap()

	if err := checkType(candidate.Signed.Type, typeRoot); err != nil {
		return TrustedRoot{}, false, err
	}

	if candidate.Signed.Version == old.Signed.Version {
		oldBytes, err1 := old.Signed.canonicalJSON()
		newBytes, err2 := candidate.Signed.canonicalJSON()
		if err1 != nil {
			return TrustedRoot{}, false, err1
		}
		if err2 != nil {
			return TrustedRoot{}, false, err2
		}
		if string(oldBytes) != string(newBytes) {
			return TrustedRoot{}, false, errors.Errorf("root version %d reused with differing content", candidate.Signed.Version)
		}
		// identical version and content: no-op, trust is unchanged.
		return trusted, false, nil
	}
	if err := checkVersionMonotone(RoleRoot, old.Signed.Version, candidate.Signed.Version); err != nil {
		return TrustedRoot{}, false, err
	}
	if err := checkExpiry(RoleRoot, candidate.Signed.Expires, now); err != nil {
		return TrustedRoot{}, false, err
	}

	signed, err := candidate.Signed.canonicalJSON()
	if err != nil {
		return TrustedRoot{}, false, err
	}

	oldKeyEnv, err := old.Signed.keyEnv()
	if err != nil {
		return TrustedRoot{}, false, err
	}
	oldRootRole, ok := old.Signed.Roles[RoleRoot]
	if !ok {
		return TrustedRoot{}, false, errors.New("trusted root missing root role entry")
	}
	if _, err := verifyEnvelope(RoleRoot, oldRootRole, oldKeyEnv, signed, candidate.Signatures); err != nil {
		return TrustedRoot{}, false, errors.Wrap(err, "cross-signing against old root")
	}

	newKeyEnv, err := candidate.Signed.keyEnv()
	if err != nil {
		return TrustedRoot{}, false, err
	}
	newRootRole, ok := candidate.Signed.Roles[RoleRoot]
	if !ok {
		return TrustedRoot{}, false, errors.New("candidate root missing root role entry")
	}
	if _, err := verifyEnvelope(RoleRoot, newRootRole, newKeyEnv, signed, candidate.Signatures); err != nil {
		return TrustedRoot{}, false, errors.Wrap(err, "cross-signing against new root")
	}

	invalidate = rolesChanged(old.Signed.Roles[RoleTimestamp], candidate.Signed.Roles[RoleTimestamp]) ||
		rolesChanged(old.Signed.Roles[RoleSnapshot], candidate.Signed.Roles[RoleSnapshot])

	return newTrustedRoot(candidate), invalidate, nil
}

// rolesChanged reports whether a's key set or threshold differs from b's.
func rolesChanged(a, b Role) bool {
	if a.Threshold != b.Threshold {
		return true
	}
	as := append([]string{}, keyIDsToStrings(a.KeyIDs)...)
	bs := append([]string{}, keyIDsToStrings(b.KeyIDs)...)
	sort.Strings(as)
	sort.Strings(bs)
	if len(as) != len(bs) {
		return true
	}
	for i := range as {
		if as[i] != bs[i] {
			return true
		}
	}
	return false
}

func keyIDsToStrings(ids []KeyID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// AcceptTimestamp verifies a candidate Timestamp against the trusted
// root's timestamp role, checking type, expiry and version monotonicity
// against lastVersion (0 if none accepted yet).
func AcceptTimestamp(candidate *Timestamp, trusted TrustedRoot, lastVersion int, now time.Time) (TrustedTimestamp, error) {
	root := trusted.Unwrap()
	if err := checkType(candidate.Signed.Type, typeTimestamp); err != nil {
		return TrustedTimestamp{}, err
	}
	tsRole, ok := root.Signed.Roles[RoleTimestamp]
	if !ok {
		return TrustedTimestamp{}, errors.New("trusted root missing timestamp role entry")
	}
	ke, err := root.Signed.keyEnv()
	if err != nil {
		return TrustedTimestamp{}, err
	}
	signed, err := candidate.Signed.canonicalJSON()
	if err != nil {
		return TrustedTimestamp{}, err
	}
	if _, err := verifyEnvelope(RoleTimestamp, tsRole, ke, signed, candidate.Signatures); err != nil {
		return TrustedTimestamp{}, err
	}
	if err := checkVersionMonotone(RoleTimestamp, lastVersion, candidate.Signed.Version); err != nil {
		return TrustedTimestamp{}, err
	}
	if err := checkExpiry(RoleTimestamp, candidate.Signed.Expires, now); err != nil {
		return TrustedTimestamp{}, err
	}
	if _, err := candidate.Signed.snapshotFileInfo(); err != nil {
		return TrustedTimestamp{}, err
	}
	return newTrustedTimestamp(candidate), nil
}

// AcceptSnapshot verifies raw bytes against the FileInfo pinned by the
// trusted timestamp *before* parsing (§4.3: "check FileInfo against the
// trusted timestamp's record before parsing"), then parses and verifies
// the signature threshold, version monotonicity, expiry, and that it
// lists root.json, mirrors.json and the index.
func AcceptSnapshot(raw []byte, candidate *Snapshot, trusted TrustedRoot, trustedTimestamp TrustedTimestamp, lastVersion int, now time.Time) (TrustedSnapshot, error) {
	declared, err := trustedTimestamp.Unwrap().Signed.snapshotFileInfo()
	if err != nil {
		return TrustedSnapshot{}, err
	}
	actual := fileInfoOfBytes(raw, declared.Hashes)
	if !declared.Matches(actual) {
		return TrustedSnapshot{}, &ErrInvalidFileInfo{File: snapshotFileName, Expected: declared, Actual: actual}
	}

	root := trusted.Unwrap()
	if err := checkType(candidate.Signed.Type, typeSnapshot); err != nil {
		return TrustedSnapshot{}, err
	}
	ssRole, ok := root.Signed.Roles[RoleSnapshot]
	if !ok {
		return TrustedSnapshot{}, errors.New("trusted root missing snapshot role entry")
	}
	ke, err := root.Signed.keyEnv()
	if err != nil {
		return TrustedSnapshot{}, err
	}
	signed, err := candidate.Signed.canonicalJSON()
	if err != nil {
		return TrustedSnapshot{}, err
	}
	if _, err := verifyEnvelope(RoleSnapshot, ssRole, ke, signed, candidate.Signatures); err != nil {
		return TrustedSnapshot{}, err
	}
	if err := checkVersionMonotone(RoleSnapshot, lastVersion, candidate.Signed.Version); err != nil {
		return TrustedSnapshot{}, err
	}
	if err := checkExpiry(RoleSnapshot, candidate.Signed.Expires, now); err != nil {
		return TrustedSnapshot{}, err
	}
	for _, required := range []string{rootFileName, mirrorsFileName, IndexFileName} {
		if _, ok := candidate.Signed.Meta[required]; !ok {
			return TrustedSnapshot{}, errors.Errorf("snapshot missing required entry %q", required)
		}
	}
	return newTrustedSnapshot(candidate), nil
}

// AcceptMirrors verifies a Mirrors document's signature threshold,
// version monotonicity and expiry; its FileInfo (if the caller has one,
// pinned by the trusted snapshot) must be checked by the caller before
// calling this, the same way AcceptSnapshot checks its own FileInfo
// internally against the timestamp.
func AcceptMirrors(candidate *Mirrors, trusted TrustedRoot, lastVersion int, now time.Time) (TrustedMirrors, error) {
	root := trusted.Unwrap()
	if err := checkType(candidate.Signed.Type, typeMirrors); err != nil {
		return TrustedMirrors{}, err
	}
	mRole, ok := root.Signed.Roles[RoleMirrors]
	if !ok {
		return TrustedMirrors{}, errors.New("trusted root missing mirrors role entry")
	}
	ke, err := root.Signed.keyEnv()
	if err != nil {
		return TrustedMirrors{}, err
	}
	signed, err := candidate.Signed.canonicalJSON()
	if err != nil {
		return TrustedMirrors{}, err
	}
	if _, err := verifyEnvelope(RoleMirrors, mRole, ke, signed, candidate.Signatures); err != nil {
		return TrustedMirrors{}, err
	}
	if err := checkVersionMonotone(RoleMirrors, lastVersion, candidate.Signed.Version); err != nil {
		return TrustedMirrors{}, err
	}
	if err := checkExpiry(RoleMirrors, candidate.Signed.Expires, now); err != nil {
		return TrustedMirrors{}, err
	}
	return newTrustedMirrors(candidate), nil
}

func fileInfoOfBytes(raw []byte, wantAlgos map[HashAlgo]string) FileInfo {
	fi := FileInfo{Length: int64(len(raw)), Hashes: make(map[HashAlgo]string, len(wantAlgos))}
	for algo := range wantAlgos {
		fi.Hashes[algo] = hexDigest(algo, raw)
	}
	return fi
}

// RoleFetcher is implemented by whatever knows how to retrieve a Targets
// document by role name — a local cache, an HTTP repository, or a test
// double. It is the abstraction ResolveTargets walks over (§4.3 Targets &
// delegation).
type RoleFetcher interface {
	FetchTargets(roleName string) (*Targets, error)
}

// ResolveTargets performs the preorder depth-first delegation walk of
// §4.3: verify the top-level targets role, then fetch and verify every
// delegated role in declared order, visiting a role's own delegations
// before its later siblings, skipping roles already visited and stopping
// after maxDelegationCount documents. A delegated role that fails to
// fetch or verify is skipped, unless it is terminating, which fails the
// whole walk. Each document is checked for type, signature threshold and
// expiry only; no FileInfo is checked against the trusted snapshot.
// Resolving a concrete path against the result is LookupTarget's job.
func ResolveTargets(fetcher RoleFetcher, trusted TrustedRoot, now time.Time) (TrustedTargets, error) {
	root := trusted.Unwrap()
	targetsRole, ok := root.Signed.Roles[RoleTargets]
	if !ok {
		return TrustedTargets{}, errors.New("trusted root missing targets role entry")
	}
	rootKeyEnv, err := root.Signed.keyEnv()
	if err != nil {
		return TrustedTargets{}, err
	}

	top, err := fetcher.FetchTargets(string(RoleTargets))
	if err != nil {
		return TrustedTargets{}, err
	}
	if err := verifyTargetsDoc(top, typeTargets, targetsRole, rootKeyEnv, now); err != nil {
		return TrustedTargets{}, err
	}

	rt := newRootTarget()
	rt.Targets = top
	if err := rt.append(string(RoleTargets), top, nil); err != nil {
		return TrustedTargets{}, err
	}

	visited := map[string]bool{string(RoleTargets): true}
	queue := append([]DelegationRole{}, top.Signed.Delegations.Roles...)
	parentKeys := map[string]KeyEnv{}
	for i := range queue {
		parentKeys[queue[i].Name] = delegationKeyEnv(top.Signed.Delegations.Keys)
	}

	count := 1
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		if visited[d.Name] {
			continue // cycle guard, TUF 4.5.1
		}
		if count >= maxDelegationCount {
			break
		}
		visited[d.Name] = true
		count++

		child, err := fetcher.FetchTargets(d.Name)
		if err != nil {
			if d.Terminating {
				return TrustedTargets{}, errors.Wrapf(err, "fetching terminating delegation %q", d.Name)
			}
			continue
		}
		delegKeyEnv := parentKeys[d.Name]
		if err := verifyTargetsDoc(child, typeTargets, d.Role, delegKeyEnv, now); err != nil {
			if d.Terminating {
				return TrustedTargets{}, err
			}
			continue
		}
		if err := rt.append(d.Name, child, &d); err != nil {
			if d.Terminating {
				return TrustedTargets{}, err
			}
			continue
		}
		for i := range child.Signed.Delegations.Roles {
			parentKeys[child.Signed.Delegations.Roles[i].Name] = delegationKeyEnv(child.Signed.Delegations.Keys)
		}
		queue = append(append([]DelegationRole{}, child.Signed.Delegations.Roles...), queue...)
	}

	return newTrustedTargets(rt), nil
}

func delegationKeyEnv(keys map[KeyID]Key) KeyEnv {
	ke := newKeyEnv()
	_ = ke.add(keys)
	return ke
}

func verifyTargetsDoc(t *Targets, expectedType string, role Role, ke KeyEnv, now time.Time) error {
	if err := checkType(t.Signed.Type, expectedType); err != nil {
		return err
	}
	signed, err := t.Signed.canonicalJSON()
	if err != nil {
		return err
	}
	if _, err := verifyEnvelope(RoleTargets, role, ke, signed, t.Signatures); err != nil {
		return err
	}
	if err := checkExpiry(RoleTargets, t.Signed.Expires, now); err != nil {
		return err
	}
	return nil
}

// LookupTarget resolves a concrete path against an already-resolved
// TrustedTargets tree, reporting DelegationUnresolved only when a
// terminating delegation's pattern matched the path but the path still
// wasn't claimed by it or anything it delegated further to. Only the
// terminating delegations of the top-level targets document are checked
// for this; otherwise an unclaimed path is a plain not-found error.
func LookupTarget(tt TrustedTargets, path string) (FileInfo, error) {
	if fi, ok := tt.Lookup(path); ok {
		return fi, nil
	}
	rt := tt.Unwrap()
	for _, d := range rt.Targets.Signed.Delegations.Roles {
		matched, err := d.matchesAny(path)
		if err != nil {
			return FileInfo{}, err
		}
		if matched && d.Terminating {
			return FileInfo{}, &ErrDelegationUnresolved{Path: path}
		}
	}
	return FileInfo{}, errors.Errorf("target %q not found", path)
}
