package tuf

import "github.com/go-kit/kit/log"

// Format names a representation the server may offer for a given remote
// file. Only the index is ever offered in more than one format.
type Format int

const (
	FormatUncompressed Format = iota
	FormatGzip
)

// FormatSet is the phantom-typed "which formats are available" witness
// from the design notes, realized as a runtime-checked sum over the
// three possible non-empty shapes: uncompressed only, gzip only, or
// both. Exhaustive handling is enforced by Formats(), not the type
// system, per the design note's "runtime assertions plus thorough
// tests".
type FormatSet struct {
	uncompressed bool
	gzip         bool
}

func UncompressedOnly() FormatSet { return FormatSet{uncompressed: true} }
func GzipOnly() FormatSet         { return FormatSet{gzip: true} }
func UncompressedAndGzip() FormatSet {
	return FormatSet{uncompressed: true, gzip: true}
}

// Formats returns the non-empty list of formats this set offers.
func (f FormatSet) Formats() []Format {
	var out []Format
	if f.uncompressed {
		out = append(out, FormatUncompressed)
	}
	if f.gzip {
		out = append(out, FormatGzip)
	}
	return out
}

func (f FormatSet) Has(format Format) bool {
	switch format {
	case FormatUncompressed:
		return f.uncompressed
	case FormatGzip:
		return f.gzip
	default:
		return false
	}
}

// RemoteFileKind discriminates the RemoteFile tagged union.
type RemoteFileKind int

const (
	RemoteTimestamp RemoteFileKind = iota
	RemoteRoot
	RemoteSnapshot
	RemoteMirrors
	RemoteIndex
	RemotePkgTarGz
	RemoteTargetsRole
)

// RemoteFile names a file the caller wants from a Repository, carrying
// whatever sizing information the caller has already verified (§4.5).
// Root's size is optional because the very first root fetch has nothing
// to pin it against; timestamp and targets-role requests are unsized
// too, and everything else is sized off a trusted role.
type RemoteFile struct {
	Kind  RemoteFileKind
	Size  int64 // -1 means unknown/unbounded-by-caller
	Sizes []int64 // parallel to Formats, for RemoteIndex
	Formats FormatSet

	// PlainInfo is the snapshot's pinned FileInfo for the uncompressed
	// index, for RemoteIndex only. An incremental update assembles bytes
	// locally rather than downloading them whole, so it must verify the
	// result against this FileInfo itself before reporting success —
	// the caller's own post-download verification only ever sees
	// whichever format the repository says it actually selected.
	PlainInfo FileInfo

	PkgID    string // for RemotePkgTarGz
	RoleName string // for RemoteTargetsRole
}

func RemoteFileTimestamp() RemoteFile { return RemoteFile{Kind: RemoteTimestamp, Size: -1} }

func RemoteFileRoot(size int64) RemoteFile {
	if size <= 0 {
		size = -1
	}
	return RemoteFile{Kind: RemoteRoot, Size: size}
}

func RemoteFileSnapshot(size int64) RemoteFile {
	return RemoteFile{Kind: RemoteSnapshot, Size: size}
}

func RemoteFileMirrors(size int64) RemoteFile {
	return RemoteFile{Kind: RemoteMirrors, Size: size}
}

func RemoteFileIndex(formats FormatSet, sizes []int64, plainInfo FileInfo) RemoteFile {
	return RemoteFile{Kind: RemoteIndex, Formats: formats, Sizes: sizes, Size: -1, PlainInfo: plainInfo}
}

func RemoteFilePkgTarGz(pkgID string, size int64) RemoteFile {
	return RemoteFile{Kind: RemotePkgTarGz, PkgID: pkgID, Size: size}
}

// RemoteFileTargetsRole names a top-level or delegated targets document by
// role name, fetched from "<roleName>.json" at the repository root (§4.3
// Targets & delegation).
func RemoteFileTargetsRole(roleName string, size int64) RemoteFile {
	if size <= 0 {
		size = -1
	}
	return RemoteFile{Kind: RemoteTargetsRole, RoleName: roleName, Size: size}
}

// SelectedFormat is the concrete format a Repository chose when
// satisfying a RemoteIndex request.
type SelectedFormat struct {
	Format Format
	Size   int64
}

// RemoteCallback is invoked by WithRemote once the requested file is
// available locally; the callback is responsible for verifying the bytes
// before any cache commit (§4.5). tempPath is valid only during the
// callback: the HTTP repository removes its staged temp file when the
// callback returns, and the local repository passes the path of the
// cached file itself.
type RemoteCallback func(selected SelectedFormat, tempPath string) error

// Repository is the uniform API over local and HTTP backends (§4.5).
type Repository interface {
	// WithRemote ensures file is available locally and invokes cb with
	// the path to the downloaded (unverified) bytes.
	WithRemote(file RemoteFile, cb RemoteCallback) error

	// GetCached returns the path to a verified, locally cached file.
	GetCached(name string) (string, bool)

	// GetCachedRoot returns the path to the trusted root; its absence
	// is a fatal configuration error, not a miss.
	GetCachedRoot() (string, error)

	// ClearCache forgets the cached timestamp and snapshot, used after a
	// role key rotation invalidates them.
	ClearCache() error

	// GetFromIndex looks up a file inside the cached index tarball.
	GetFromIndex(pkgID PackageID, filename string) ([]byte, bool, error)

	// WithMirror selects a mirror for the duration of scope; nested
	// WithRemote calls use that mirror. Implementations that have no
	// notion of a mirror (e.g. a purely local repository) may simply
	// invoke scope directly.
	WithMirror(scope func() error) error

	// Log emits a structured event.
	Log(keyvals ...interface{})
}

// repoLogger is a tiny helper embedded by repository implementations so
// Log() has a sane default even when the caller doesn't configure one.
type repoLogger struct {
	logger log.Logger
}

func (l repoLogger) Log(keyvals ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Log(keyvals...)
}
