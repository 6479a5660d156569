// Package tuf implements the trust engine and repository adapters for a
// Hackage-style secure package index: a variant of The Update Framework
// (TUF) that lets a client fetch package artifacts from an untrusted
// mirror and verify them against a pre-established root of trust.
//
// The package is organized the way the TUF spec itself is: a metadata
// model (roles.go, keys.go), a verification pipeline (verify.go,
// pipeline.go, statemachine.go), a local trusted cache (cache.go) and a
// Repository abstraction with local and HTTP backends (repo.go,
// localrepo.go, httprepo.go).
package tuf

import "time"

// IndexFileName is the well-known name of the package index tarball.
// Abstracting this into settings is flagged upstream but not yet done;
// it stays a constant pending that decision.
const IndexFileName = "00-index.tar"

// IndexFileNameGz is the gzip-compressed form of IndexFileName.
const IndexFileNameGz = IndexFileName + ".gz"

const (
	rootFileName      = "root.json"
	timestampFileName = "timestamp.json"
	snapshotFileName  = "snapshot.json"
	mirrorsFileName   = "mirrors.json"
	bundleFileName    = "timestamp-snapshot.json"
	indexIdxFileName  = IndexFileName + ".idx"
	unverifiedDirName = "unverified"
)

// Exported aliases of the well-known role filenames, for callers outside
// this package that need to key into a Meta FileMap (e.g. a client
// driver comparing a snapshot's pinned root.json FileInfo against its
// current cached root).
const (
	RootFileName      = rootFileName
	TimestampFileName = timestampFileName
	SnapshotFileName  = snapshotFileName
	MirrorsFileName   = mirrorsFileName
)

// Settings bundles the parameters needed to locate, cache and verify a
// package index.
type Settings struct {
	// LocalRepoPath is the directory used for the trusted cache (§4.4).
	// It must be seeded with a bootstrap root.json before first use.
	LocalRepoPath string

	// Mirrors is the out-of-band mirror list, consulted whenever no
	// trusted mirrors.json has ever been cached, and always consulted
	// first (§4.6 "with_mirror is given the out-of-band mirror list
	// concatenated with any mirrors learned from a verified mirrors.json").
	Mirrors []string

	// MaxResponseSize bounds the size of any single metadata download;
	// zero means DefaultMaxResponseSize.
	MaxResponseSize int64

	// RequestTimeout bounds a single HTTP round trip.
	RequestTimeout time.Duration
}

// DefaultMaxResponseSize is used when Settings.MaxResponseSize is unset.
// It bounds root/timestamp/snapshot/mirrors documents, which are small;
// the index tarball is bounded separately by its declared FileInfo.
const DefaultMaxResponseSize int64 = 5 << 20 // 5MiB

func (s *Settings) maxResponseSize() int64 {
	if s.MaxResponseSize > 0 {
		return s.MaxResponseSize
	}
	return DefaultMaxResponseSize
}
