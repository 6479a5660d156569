package tuf

import (
	"archive/tar"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/go-kit/kit/log"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// PackageID names a package and version as stored in the index tarball,
// e.g. {"acme", "1.2.0"}.
type PackageID struct {
	Name    string
	Version string
}

func (p PackageID) tarPrefix() string {
	return filepath.ToSlash(filepath.Join(p.Name, p.Version))
}

type indexEntry struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// LocalCache implements the on-disk layout of §4.4: a flat directory of
// verified role files, the index tarball, its offset sidecar, and an
// "unverified/" staging area that is never treated as trusted.
type LocalCache struct {
	dir    string
	logger log.Logger

	// sidecarCache memoizes the parsed offset table across repeated
	// GetFromIndex calls in one process (§4.4's sidecar is per-process
	// reparsed on a cold read, then cheap).
	sidecarCache *lru.Cache
}

// NewLocalCache opens the cache at dir, creating the unverified/ staging
// subdirectory if needed. dir itself must already exist and be seeded
// with a root.json before use (§4.4 "root must exist; absence is fatal"
// is enforced by GetCachedRoot, not here, so an empty cache can still be
// bootstrapped into).
func NewLocalCache(dir string, logger log.Logger) (*LocalCache, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrap(err, "local cache directory")
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("local cache path %q is not a directory", dir)
	}
	if err := os.MkdirAll(filepath.Join(dir, unverifiedDirName), 0755); err != nil {
		return nil, errors.Wrap(err, "creating unverified staging directory")
	}
	c, err := lru.New(4)
	if err != nil {
		return nil, errors.Wrap(err, "creating index sidecar cache")
	}
	return &LocalCache{dir: dir, logger: logger, sidecarCache: c}, nil
}

func (c *LocalCache) path(name string) string {
	return filepath.Join(c.dir, name)
}

func (c *LocalCache) log(keyvals ...interface{}) {
	if c.logger != nil {
		c.logger.Log(keyvals...)
	}
}

// GetCached returns the path to a verified local file, if present.
func (c *LocalCache) GetCached(name string) (string, bool) {
	p := c.path(name)
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// GetCachedRoot returns the path to the trusted root.json. Its absence
// is fatal: every client must be bootstrapped with one.
func (c *LocalCache) GetCachedRoot() (string, error) {
	p := c.path(rootFileName)
	if _, err := os.Stat(p); err != nil {
		return "", errors.Wrap(err, "no trusted root.json in local cache; bootstrap is required")
	}
	return p, nil
}

// ClearCache drops the cached timestamp and snapshot, used after a role
// key rotation invalidates them (§4.3, §4.4).
func (c *LocalCache) ClearCache() error {
	for _, name := range []string{timestampFileName, snapshotFileName} {
		p := c.path(name)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "clearing cached %s", name)
		}
	}
	c.log("event", "cache_cleared")
	return nil
}

// StageUnverified returns a temp file under unverified/ for the caller to
// write untrusted bytes into before verification. It is the caller's
// responsibility to remove it on failure; on success CommitVerified
// copies its bytes into the cache and then removes it.
func (c *LocalCache) StageUnverified(pattern string) (*os.File, error) {
	dir := filepath.Join(c.dir, unverifiedDirName)
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "staging unverified file")
	}
	return f, nil
}

// CommitVerified performs the atomic swap from §4.4: write happened
// already (into stagingPath, presumably inside unverified/), this copies
// those now-verified bytes into a fresh temp file in the cache directory
// itself, fsyncs it, then renames it over cacheAs. A verified replacement
// never leaves the cache in a torn state; concurrent readers always see
// a self-consistent set because rename is atomic on POSIX and NTFS.
func (c *LocalCache) CommitVerified(stagingPath, cacheAs string) error {
	src, err := os.Open(stagingPath)
	if err != nil {
		return errors.Wrap(err, "opening staged file for commit")
	}
	defer src.Close()

	tmp, err := os.CreateTemp(c.dir, "."+cacheAs+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating cache replacement temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return errors.Wrap(err, "copying verified bytes into cache")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "fsyncing cache replacement")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing cache replacement")
	}
	if err := os.Rename(tmpPath, c.path(cacheAs)); err != nil {
		return errors.Wrap(err, "renaming cache replacement into place")
	}
	_ = os.Remove(stagingPath)
	c.log("event", "cache_committed", "file", cacheAs)
	return nil
}

// CommitIndex commits a freshly verified index tarball and regenerates
// its offset sidecar as a separate second step: the sidecar is written
// after the tar is safely in place, so a crash between the two leaves a
// trusted tar with a stale-or-missing sidecar, never a sidecar pointing
// into a tar that was never committed.
func (c *LocalCache) CommitIndex(stagingPath string) error {
	if err := c.CommitVerified(stagingPath, IndexFileName); err != nil {
		return err
	}
	entries, err := buildIndexSidecar(c.path(IndexFileName))
	if err != nil {
		return errors.Wrap(err, "building index sidecar")
	}
	buf, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "encoding index sidecar")
	}
	tmp, err := os.CreateTemp(c.dir, ".idx.tmp-*")
	if err != nil {
		return errors.Wrap(err, "staging index sidecar")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "writing index sidecar")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	tmp.Close()
	if err := os.Rename(tmpPath, c.path(indexIdxFileName)); err != nil {
		return errors.Wrap(err, "renaming index sidecar into place")
	}
	c.sidecarCache.Remove(c.path(indexIdxFileName))
	c.log("event", "index_committed", "entries", len(entries))
	return nil
}

// GetFromIndex looks up a file inside the cached index tarball via its
// offset sidecar, for O(1) lookup instead of a linear tar scan.
func (c *LocalCache) GetFromIndex(pkgID PackageID, filename string) ([]byte, bool, error) {
	entries, err := c.loadSidecar()
	if err != nil {
		return nil, false, err
	}
	key := pkgID.tarPrefix() + "/" + filename
	entry, ok := entries[key]
	if !ok {
		return nil, false, nil
	}
	f, err := os.Open(c.path(IndexFileName))
	if err != nil {
		return nil, false, errors.Wrap(err, "opening index tarball")
	}
	defer f.Close()
	if _, err := f.Seek(entry.Offset, io.SeekStart); err != nil {
		return nil, false, errors.Wrap(err, "seeking index tarball")
	}
	buf := make([]byte, entry.Length)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, false, errors.Wrap(err, "reading index entry")
	}
	return buf, true, nil
}

func (c *LocalCache) loadSidecar() (map[string]indexEntry, error) {
	sidecarPath := c.path(indexIdxFileName)
	if v, ok := c.sidecarCache.Get(sidecarPath); ok {
		return v.(map[string]indexEntry), nil
	}
	buf, err := os.ReadFile(sidecarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]indexEntry{}, nil
		}
		return nil, errors.Wrap(err, "reading index sidecar")
	}
	var entries map[string]indexEntry
	if err := json.Unmarshal(buf, &entries); err != nil {
		return nil, errors.Wrap(err, "decoding index sidecar")
	}
	c.sidecarCache.Add(sidecarPath, entries)
	return entries, nil
}

// countingReader tracks bytes consumed from the underlying reader, used
// to recover byte offsets from a forward-only archive/tar.Reader.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// buildIndexSidecar walks a ustar archive, recording the byte offset and
// length of each regular file's data section so GetFromIndex never has
// to scan the tarball linearly.
func buildIndexSidecar(tarPath string) (map[string]indexEntry, error) {
	f, err := os.Open(tarPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := &countingReader{r: f}
	tr := tar.NewReader(cr)
	entries := make(map[string]indexEntry)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading tar header")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		entries[filepath.ToSlash(hdr.Name)] = indexEntry{
			Offset: cr.n,
			Length: hdr.Size,
		}
	}
	return entries, nil
}
