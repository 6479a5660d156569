package security

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	cjson "github.com/docker/go/canonical/json"

	"github.com/zerobuzz/hackage-security/tuf"
)

// testKeyPair mirrors the signing helper used inside package tuf's own
// tests, reimplemented here against tuf's exported types since this
// package can only reach tuf through its public surface.
type testKeyPair struct {
	id   tuf.KeyID
	priv ed25519.PrivateKey
	key  tuf.Key
}

func mustGenerateKey() testKeyPair {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic(err)
	}
	key := tuf.Key{KeyType: "ed25519", KeyVal: tuf.KeyVal{Public: hex.EncodeToString(pub)}}
	buf, err := cjson.MarshalCanonical(key)
	if err != nil {
		panic(err)
	}
	sum := sha256.Sum256(buf)
	return testKeyPair{id: tuf.KeyID(hex.EncodeToString(sum[:])), priv: priv, key: key}
}

func (k testKeyPair) sign(signed []byte) tuf.Signature {
	sig := ed25519.Sign(k.priv, signed)
	return tuf.Signature{KeyID: k.id, Method: "ed25519", Sig: hex.EncodeToString(sig)}
}

func canonicalOf(v interface{}) []byte {
	buf, err := cjson.MarshalCanonical(v)
	if err != nil {
		panic(err)
	}
	return buf
}

// fixtureRepo bundles a full, consistently-signed set of role documents
// plus the keys that signed them, for tests that drive Bootstrap and
// CheckForUpdates end to end against a local cache.
type fixtureRepo struct {
	rootKey, tsKey, snapKey, targetsKey, mirrorsKey testKeyPair
	root                                             tuf.Root
	timestamp                                        tuf.Timestamp
	snapshot                                         tuf.Snapshot
	mirrors                                          tuf.Mirrors
	targets                                          tuf.Targets
}

func newFixtureRepo(expires time.Time) *fixtureRepo {
	f := &fixtureRepo{
		rootKey:    mustGenerateKey(),
		tsKey:      mustGenerateKey(),
		snapKey:    mustGenerateKey(),
		targetsKey: mustGenerateKey(),
		mirrorsKey: mustGenerateKey(),
	}

	signedRoot := tuf.SignedRoot{
		Type:               "Root",
		Version:            1,
		Expires:            expires,
		ConsistentSnapshot: true,
		Keys: map[tuf.KeyID]tuf.Key{
			f.rootKey.id:    f.rootKey.key,
			f.tsKey.id:      f.tsKey.key,
			f.snapKey.id:    f.snapKey.key,
			f.targetsKey.id: f.targetsKey.key,
			f.mirrorsKey.id: f.mirrorsKey.key,
		},
		Roles: map[tuf.RoleName]tuf.Role{
			tuf.RoleRoot:      {KeyIDs: []tuf.KeyID{f.rootKey.id}, Threshold: 1},
			tuf.RoleTimestamp: {KeyIDs: []tuf.KeyID{f.tsKey.id}, Threshold: 1},
			tuf.RoleSnapshot:  {KeyIDs: []tuf.KeyID{f.snapKey.id}, Threshold: 1},
			tuf.RoleTargets:   {KeyIDs: []tuf.KeyID{f.targetsKey.id}, Threshold: 1},
			tuf.RoleMirrors:   {KeyIDs: []tuf.KeyID{f.mirrorsKey.id}, Threshold: 1},
		},
	}
	rootSigned := canonicalOf(signedRoot)
	f.root = tuf.Root{Signed: signedRoot, Signatures: []tuf.Signature{f.rootKey.sign(rootSigned)}}

	signedTargets := tuf.SignedTargets{
		Type:    "Targets",
		Version: 1,
		Expires: expires,
		Targets: tuf.FileMap{
			"acme/1.0.0/acme-1.0.0.tar.gz": tuf.FileInfoFor([]byte("fake package bytes")),
		},
	}
	targetsSigned := canonicalOf(signedTargets)
	f.targets = tuf.Targets{Signed: signedTargets, Signatures: []tuf.Signature{f.targetsKey.sign(targetsSigned)}}
	targetsRaw := canonicalOf(f.targets)

	signedSnapshot := tuf.SignedSnapshot{
		Type:    "Snapshot",
		Version: 1,
		Expires: expires,
		Meta: tuf.FileMap{
			tuf.RootFileName:    tuf.FileInfoFor(rootSignedBytesOf(f.root)),
			tuf.MirrorsFileName: tuf.FileInfo{}, // filled below once mirrors is built
			tuf.IndexFileName:   tuf.FileInfoFor([]byte{}),
			"targets.json":      tuf.FileInfoFor(targetsRaw),
		},
	}

	signedMirrors := tuf.SignedMirrors{
		Type:    "Mirrors",
		Version: 1,
		Expires: expires,
		Mirrors: []tuf.MirrorDescriptor{{URLBase: "https://mirror.example/repo"}},
	}
	mirrorsSigned := canonicalOf(signedMirrors)
	f.mirrors = tuf.Mirrors{Signed: signedMirrors, Signatures: []tuf.Signature{f.mirrorsKey.sign(mirrorsSigned)}}
	mirrorsRaw := canonicalOf(f.mirrors)
	signedSnapshot.Meta[tuf.MirrorsFileName] = tuf.FileInfoFor(mirrorsRaw)

	snapSigned := canonicalOf(signedSnapshot)
	f.snapshot = tuf.Snapshot{Signed: signedSnapshot, Signatures: []tuf.Signature{f.snapKey.sign(snapSigned)}}

	signedTimestamp := tuf.SignedTimestamp{
		Type:    "Timestamp",
		Version: 1,
		Expires: expires,
		Meta: tuf.FileMap{
			tuf.SnapshotFileName: tuf.FileInfoFor(canonicalOf(f.snapshot)),
		},
	}
	tsSigned := canonicalOf(signedTimestamp)
	f.timestamp = tuf.Timestamp{Signed: signedTimestamp, Signatures: []tuf.Signature{f.tsKey.sign(tsSigned)}}

	return f
}

// rootSignedBytesOf reproduces the exact bytes AcceptRootRotation/the
// snapshot's root.json FileInfo are computed over: the full Root
// envelope as written to root.json on disk, not just its Signed payload.
func rootSignedBytesOf(r tuf.Root) []byte {
	return canonicalOf(r)
}

// writeToCache lays out every role document plus an empty index tarball
// directly into dir's role-file layout, as if a prior, already-verified
// cycle had populated it. Every file's on-disk bytes are exactly the
// canonical bytes its FileInfo was computed from.
func (f *fixtureRepo) writeToCache(t interface{ Fatal(...interface{}) }, dir string) {
	write := func(name string, data []byte) {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	write(tuf.RootFileName, canonicalOf(f.root))
	write(tuf.TimestampFileName, canonicalOf(f.timestamp))
	write(tuf.SnapshotFileName, canonicalOf(f.snapshot))
	write(tuf.MirrorsFileName, canonicalOf(f.mirrors))
	write("targets.json", canonicalOf(f.targets))
	write(tuf.IndexFileName, []byte{})
}
