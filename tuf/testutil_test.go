package tuf

import (
	"crypto/ed25519"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
)

// testKeyPair bundles a generated ed25519 key pair with its TUF Key and
// KeyID, used throughout the package's tests to build signed fixtures
// without needing fixture files on disk.
type testKeyPair struct {
	id      KeyID
	pub     ed25519.PublicKey
	priv    ed25519.PrivateKey
	key     Key
}

func mustGenerateKey() testKeyPair {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic(err)
	}
	key := Key{KeyType: keyTypeED25519, KeyVal: KeyVal{Public: hex.EncodeToString(pub)}}
	id, err := key.ID()
	if err != nil {
		panic(err)
	}
	return testKeyPair{id: id, pub: pub, priv: priv, key: key}
}

func (k testKeyPair) sign(signed []byte) Signature {
	sig := ed25519.Sign(k.priv, signed)
	return Signature{KeyID: k.id, Method: methodED25519, Sig: hex.EncodeToString(sig)}
}

// signRoot produces a fully signed Root document from a SignedRoot and the
// set of keys that should sign it.
func signRoot(sr SignedRoot, signers ...testKeyPair) (*Root, error) {
	signed, err := sr.canonicalJSON()
	if err != nil {
		return nil, errors.Wrap(err, "canonicalizing root")
	}
	r := &Root{Signed: sr}
	for _, k := range signers {
		r.Signatures = append(r.Signatures, k.sign(signed))
	}
	return r, nil
}

func signTimestamp(st SignedTimestamp, signers ...testKeyPair) (*Timestamp, error) {
	signed, err := st.canonicalJSON()
	if err != nil {
		return nil, err
	}
	t := &Timestamp{Signed: st}
	for _, k := range signers {
		t.Signatures = append(t.Signatures, k.sign(signed))
	}
	return t, nil
}

func signSnapshot(ss SignedSnapshot, signers ...testKeyPair) (*Snapshot, error) {
	signed, err := ss.canonicalJSON()
	if err != nil {
		return nil, err
	}
	s := &Snapshot{Signed: ss}
	for _, k := range signers {
		s.Signatures = append(s.Signatures, k.sign(signed))
	}
	return s, nil
}

func signTargets(st SignedTargets, signers ...testKeyPair) (*Targets, error) {
	signed, err := st.canonicalJSON()
	if err != nil {
		return nil, err
	}
	t := &Targets{Signed: st}
	for _, k := range signers {
		t.Signatures = append(t.Signatures, k.sign(signed))
	}
	return t, nil
}

func signMirrors(sm SignedMirrors, signers ...testKeyPair) (*Mirrors, error) {
	signed, err := sm.canonicalJSON()
	if err != nil {
		return nil, err
	}
	m := &Mirrors{Signed: sm}
	for _, k := range signers {
		m.Signatures = append(m.Signatures, k.sign(signed))
	}
	return m, nil
}

// newTestRoot builds a minimal, internally consistent root document with
// one key per role, all signed by the root key(s) supplied.
func newTestRoot(expires time.Time, rootKeys []testKeyPair, timestampKey, snapshotKey, targetsKey, mirrorsKey testKeyPair, version int) (*Root, error) {
	keys := map[KeyID]Key{}
	for _, k := range rootKeys {
		keys[k.id] = k.key
	}
	keys[timestampKey.id] = timestampKey.key
	keys[snapshotKey.id] = snapshotKey.key
	keys[targetsKey.id] = targetsKey.key
	keys[mirrorsKey.id] = mirrorsKey.key

	rootIDs := make([]KeyID, len(rootKeys))
	for i, k := range rootKeys {
		rootIDs[i] = k.id
	}

	sr := SignedRoot{
		Type:               typeRoot,
		Version:            version,
		Expires:            expires,
		ConsistentSnapshot: true,
		Keys:               keys,
		Roles: map[RoleName]Role{
			RoleRoot:      {KeyIDs: rootIDs, Threshold: len(rootIDs)},
			RoleTimestamp: {KeyIDs: []KeyID{timestampKey.id}, Threshold: 1},
			RoleSnapshot:  {KeyIDs: []KeyID{snapshotKey.id}, Threshold: 1},
			RoleTargets:   {KeyIDs: []KeyID{targetsKey.id}, Threshold: 1},
			RoleMirrors:   {KeyIDs: []KeyID{mirrorsKey.id}, Threshold: 1},
		},
	}
	return signRoot(sr, rootKeys...)
}
