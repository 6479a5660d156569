package security

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/zerobuzz/hackage-security/tuf"
)

// CheckResult summarizes one successful check-for-updates cycle.
type CheckResult struct {
	TimestampVersion int
	SnapshotVersion  int
	MirrorsVersion   int
	IndexChanged     bool
	Targets          tuf.TrustedTargets
}

// CheckForUpdates runs one TUF update cycle (§4.3): fetch and verify
// timestamp and snapshot, detect and apply any root rotation the
// snapshot pins (restarting the cycle once under the new root), fetch
// and verify mirrors, update the cached index if its FileInfo changed,
// then resolve the targets delegation tree. On failure the previously
// accepted versions are kept, except that a root rotation committed
// earlier in the same cycle, and any invalidation it caused, is not
// undone (§4.7).
func (c *Client) CheckForUpdates() (*CheckResult, error) {
	c.state.BeginUpdate()
	result, err := c.doCheck()
	if err != nil {
		c.state.EndUpdateFailed()
		return nil, err
	}
	return result, nil
}

func (c *Client) doCheck() (*CheckResult, error) {
	root, ok := c.state.Root()
	if !ok {
		return nil, errors.New("no trusted root; Bootstrap must succeed before CheckForUpdates")
	}
	lastTS, lastSnap, lastMirrors := c.state.LastVersions()
	now := c.clock.Now()

	var result *CheckResult
	err := c.repo.WithMirror(func() error {
		r, err := c.runUpdateCycle(root, lastTS, lastSnap, lastMirrors, now)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// runUpdateCycle implements one pass of §4.3's fetch/verify chain. It
// performs at most one root-rotation retry: if the snapshot's pinned
// root.json FileInfo no longer matches the cached root, it fetches and
// applies the rotation and restarts the cycle once under the new root.
func (c *Client) runUpdateCycle(root tuf.TrustedRoot, lastTS, lastSnap, lastMirrors int, now time.Time) (*CheckResult, error) {
	for attempt := 0; attempt < 2; attempt++ {
		tsRaw, err := c.fetchBytes(tuf.RemoteFileTimestamp())
		if err != nil {
			return nil, errors.Wrap(err, "fetching timestamp")
		}
		var ts tuf.Timestamp
		if err := json.Unmarshal(tsRaw, &ts); err != nil {
			return nil, errors.Wrap(err, "decoding timestamp")
		}
		trustedTS, err := tuf.AcceptTimestamp(&ts, root, lastTS, now)
		if err != nil {
			return nil, errors.Wrap(err, "verifying timestamp")
		}

		declaredSnapInfo, ok := trustedTS.Unwrap().Signed.Meta[tuf.SnapshotFileName]
		if !ok {
			return nil, errors.New("timestamp missing snapshot.json entry")
		}
		snapRaw, err := c.fetchBytes(tuf.RemoteFileSnapshot(declaredSnapInfo.Length))
		if err != nil {
			return nil, errors.Wrap(err, "fetching snapshot")
		}
		var ss tuf.Snapshot
		if err := json.Unmarshal(snapRaw, &ss); err != nil {
			return nil, errors.Wrap(err, "decoding snapshot")
		}
		trustedSnap, err := tuf.AcceptSnapshot(snapRaw, &ss, root, trustedTS, lastSnap, now)
		if err != nil {
			return nil, errors.Wrap(err, "verifying snapshot")
		}

		rotated, newRoot, err := c.applyRootRotationIfNeeded(trustedSnap, root, now)
		if err != nil {
			return nil, err
		}
		if rotated {
			root = newRoot
			lastTS, lastSnap, lastMirrors = 0, 0, 0
			continue // retry the whole cycle under the newly trusted root
		}

		mirrorsVersion, err := c.checkMirrors(trustedSnap, root, lastMirrors, now)
		if err != nil {
			return nil, err
		}

		indexChanged, err := c.checkIndex(trustedSnap)
		if err != nil {
			return nil, err
		}

		trustedTargets, err := c.resolveTargets(root, now)
		if err != nil {
			return nil, err
		}

		c.state.EndUpdateOK(root, trustedTS.Unwrap().Signed.Version, trustedSnap.Unwrap().Signed.Version, mirrorsVersion)
		return &CheckResult{
			TimestampVersion: trustedTS.Unwrap().Signed.Version,
			SnapshotVersion:  trustedSnap.Unwrap().Signed.Version,
			MirrorsVersion:   mirrorsVersion,
			IndexChanged:     indexChanged,
			Targets:          trustedTargets,
		}, nil
	}
	return nil, errors.New("root kept rotating across repeated update cycles")
}

// applyRootRotationIfNeeded compares the snapshot's pinned root.json
// FileInfo against the currently cached root; a mismatch means the
// mirror is serving a newer root, which must be fetched, cross-signed
// and accepted before anything else in this cycle can be trusted (§4.3).
func (c *Client) applyRootRotationIfNeeded(trustedSnap tuf.TrustedSnapshot, root tuf.TrustedRoot, now time.Time) (bool, tuf.TrustedRoot, error) {
	declared, ok := trustedSnap.Unwrap().Signed.Meta[tuf.RootFileName]
	if !ok {
		return false, tuf.TrustedRoot{}, errors.New("snapshot missing root.json entry")
	}
	cachedPath, err := c.cache.GetCachedRoot()
	if err != nil {
		return false, tuf.TrustedRoot{}, err
	}
	cachedRaw, err := os.ReadFile(cachedPath)
	if err != nil {
		return false, tuf.TrustedRoot{}, errors.Wrap(err, "reading cached root")
	}
	if declared.Matches(tuf.FileInfoFor(cachedRaw)) {
		return false, tuf.TrustedRoot{}, nil
	}

	candRaw, err := c.fetchBytes(tuf.RemoteFileRoot(declared.Length))
	if err != nil {
		return false, tuf.TrustedRoot{}, errors.Wrap(err, "fetching rotated root")
	}
	if !declared.Matches(tuf.FileInfoFor(candRaw)) {
		return false, tuf.TrustedRoot{}, errors.New("rotated root FileInfo does not match snapshot's pinned record")
	}
	var candidate tuf.Root
	if err := json.Unmarshal(candRaw, &candidate); err != nil {
		return false, tuf.TrustedRoot{}, errors.Wrap(err, "decoding rotated root")
	}
	newRoot, invalidate, err := tuf.AcceptRootRotation(&candidate, root, now)
	if err != nil {
		return false, tuf.TrustedRoot{}, errors.Wrap(err, "verifying rotated root")
	}
	if err := c.commitBytes(candRaw, tuf.RootFileName); err != nil {
		return false, tuf.TrustedRoot{}, err
	}
	if invalidate {
		if err := c.cache.ClearCache(); err != nil {
			return false, tuf.TrustedRoot{}, err
		}
		c.state.InvalidateAfterRootChange(newRoot)
	}
	c.log.Log("event", "root_rotated", "invalidate", invalidate)
	return true, newRoot, nil
}

func (c *Client) checkMirrors(trustedSnap tuf.TrustedSnapshot, root tuf.TrustedRoot, lastMirrors int, now time.Time) (int, error) {
	declared, ok := trustedSnap.Unwrap().Signed.Meta[tuf.MirrorsFileName]
	if !ok {
		return lastMirrors, nil
	}
	raw, err := c.fetchBytes(tuf.RemoteFileMirrors(declared.Length))
	if err != nil {
		return 0, errors.Wrap(err, "fetching mirrors")
	}
	if !declared.Matches(tuf.FileInfoFor(raw)) {
		return 0, errors.New("mirrors FileInfo does not match snapshot's pinned record")
	}
	var m tuf.Mirrors
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0, errors.Wrap(err, "decoding mirrors")
	}
	trustedMirrors, err := tuf.AcceptMirrors(&m, root, lastMirrors, now)
	if err != nil {
		return 0, errors.Wrap(err, "verifying mirrors")
	}
	if setter, ok := c.repo.(interface{ SetLearnedMirrors([]string) }); ok {
		urls := make([]string, 0, len(trustedMirrors.Unwrap().Signed.Mirrors))
		for _, d := range trustedMirrors.Unwrap().Signed.Mirrors {
			urls = append(urls, d.URLBase)
		}
		setter.SetLearnedMirrors(urls)
	}
	return trustedMirrors.Unwrap().Signed.Version, nil
}

// checkIndex fetches the index tarball only if the snapshot's pinned
// FileInfo differs from what's already cached, verifying the downloaded
// bytes before committing them (§4.4, §4.5). The cache only ever holds
// the decompressed tar, so a gzip download is inflated before commit;
// the declared FileInfo used to verify it is always the one matching
// whichever format was actually selected.
func (c *Client) checkIndex(trustedSnap tuf.TrustedSnapshot) (bool, error) {
	plainInfo, havePlain := trustedSnap.Unwrap().Signed.Meta[tuf.IndexFileName]
	gzInfo, haveGz := trustedSnap.Unwrap().Signed.Meta[tuf.IndexFileNameGz]
	if !havePlain && !haveGz {
		return false, errors.New("snapshot missing index entry")
	}

	if havePlain {
		if cachedPath, ok := c.cache.GetCached(tuf.IndexFileName); ok {
			cachedRaw, err := os.ReadFile(cachedPath)
			if err == nil && plainInfo.Matches(tuf.FileInfoFor(cachedRaw)) {
				return false, nil
			}
		}
	}

	var formats tuf.FormatSet
	var sizes []int64
	switch {
	case havePlain && haveGz:
		formats = tuf.UncompressedAndGzip()
		sizes = []int64{plainInfo.Length, gzInfo.Length}
	case havePlain:
		formats = tuf.UncompressedOnly()
		sizes = []int64{plainInfo.Length}
	default:
		formats = tuf.GzipOnly()
		sizes = []int64{gzInfo.Length}
	}

	var selected tuf.SelectedFormat
	var stagedPath string
	err := c.repo.WithRemote(tuf.RemoteFileIndex(formats, sizes, plainInfo), func(sel tuf.SelectedFormat, tempPath string) error {
		selected = sel
		src, err := os.Open(tempPath)
		if err != nil {
			return err
		}
		defer src.Close()
		dst, err := c.cache.StageUnverified("index-fetched.*")
		if err != nil {
			return err
		}
		defer dst.Close()
		if _, err := io.Copy(dst, src); err != nil {
			os.Remove(dst.Name())
			return err
		}
		stagedPath = dst.Name()
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "fetching index")
	}
	defer os.Remove(stagedPath)

	declared := plainInfo
	tarPath := stagedPath
	if selected.Format == tuf.FormatGzip {
		declared = gzInfo
		inflated, err := c.inflateGzip(stagedPath)
		if err != nil {
			return false, errors.Wrap(err, "inflating gzip index")
		}
		defer os.Remove(inflated)
		f, err := os.Open(stagedPath)
		if err != nil {
			return false, err
		}
		verifyErr := declared.VerifyReader(f)
		f.Close()
		if verifyErr != nil {
			return false, errors.Wrap(verifyErr, "verifying compressed index")
		}
		if havePlain {
			inf, err := os.Open(inflated)
			if err != nil {
				return false, err
			}
			verifyErr := plainInfo.VerifyReader(inf)
			inf.Close()
			if verifyErr != nil {
				return false, errors.Wrap(verifyErr, "verifying inflated index")
			}
		}
		if err := c.cache.CommitIndex(inflated); err != nil {
			return false, err
		}
		return true, nil
	}

	f, err := os.Open(tarPath)
	if err != nil {
		return false, err
	}
	verifyErr := declared.VerifyReader(f)
	f.Close()
	if verifyErr != nil {
		return false, errors.Wrap(verifyErr, "verifying index")
	}
	if err := c.cache.CommitIndex(tarPath); err != nil {
		return false, err
	}
	return true, nil
}

// inflateGzip decompresses a staged gzip file into a fresh staged plain
// file, leaving the original untouched.
func (c *Client) inflateGzip(gzPath string) (string, error) {
	src, err := os.Open(gzPath)
	if err != nil {
		return "", err
	}
	defer src.Close()
	zr, err := gzip.NewReader(src)
	if err != nil {
		return "", errors.Wrap(err, "opening gzip stream")
	}
	defer zr.Close()

	dst, err := c.cache.StageUnverified("index-inflated.*")
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, zr); err != nil {
		os.Remove(dst.Name())
		return "", errors.Wrap(err, "decompressing index")
	}
	return dst.Name(), nil
}

// repoRoleFetcher adapts a Repository into a tuf.RoleFetcher, fetching
// each role's targets document as "<roleName>.json". The request is
// unsized, and the bytes are not checked against any FileInfo the
// snapshot pins for them.
type repoRoleFetcher struct {
	repo tuf.Repository
}

func (f *repoRoleFetcher) FetchTargets(roleName string) (*tuf.Targets, error) {
	raw, err := f.fetchBytes(roleName)
	if err != nil {
		return nil, err
	}
	var t tuf.Targets
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, errors.Wrapf(err, "decoding targets role %q", roleName)
	}
	return &t, nil
}

func (f *repoRoleFetcher) fetchBytes(roleName string) ([]byte, error) {
	var raw []byte
	err := f.repo.WithRemote(tuf.RemoteFileTargetsRole(roleName, -1), func(_ tuf.SelectedFormat, tempPath string) error {
		b, err := os.ReadFile(tempPath)
		if err != nil {
			return err
		}
		raw = b
		return nil
	})
	return raw, err
}

func (c *Client) resolveTargets(root tuf.TrustedRoot, now time.Time) (tuf.TrustedTargets, error) {
	return tuf.ResolveTargets(&repoRoleFetcher{repo: c.repo}, root, now)
}

// fetchBytes downloads file via the current mirror and returns its raw
// bytes. The caller is responsible for verifying them.
func (c *Client) fetchBytes(file tuf.RemoteFile) ([]byte, error) {
	var raw []byte
	err := c.repo.WithRemote(file, func(_ tuf.SelectedFormat, tempPath string) error {
		b, err := os.ReadFile(tempPath)
		if err != nil {
			return err
		}
		raw = b
		return nil
	})
	return raw, err
}

func (c *Client) commitBytes(raw []byte, cacheAs string) error {
	staged, err := c.cache.StageUnverified(cacheAs + ".*")
	if err != nil {
		return err
	}
	if _, err := staged.Write(raw); err != nil {
		staged.Close()
		return err
	}
	if err := staged.Close(); err != nil {
		return err
	}
	return c.cache.CommitVerified(staged.Name(), cacheAs)
}

// DownloadPackage verifies and returns the bytes of a package target
// (§4.5): path is looked up against the already-resolved targets tree,
// fetched from the current mirror, and verified against its declared
// FileInfo before being returned. DownloadPackage opens its own mirror
// scope with WithMirror for the download.
func (c *Client) DownloadPackage(targets tuf.TrustedTargets, pkgID tuf.PackageID, targetPath string) ([]byte, error) {
	fi, err := tuf.LookupTarget(targets, targetPath)
	if err != nil {
		return nil, errors.Wrapf(err, "looking up target %q", targetPath)
	}

	var raw []byte
	err = c.repo.WithMirror(func() error {
		return c.repo.WithRemote(tuf.RemoteFilePkgTarGz(pkgID.Name+"-"+pkgID.Version, fi.Length), func(_ tuf.SelectedFormat, tempPath string) error {
			f, err := os.Open(tempPath)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := fi.VerifyReader(f); err != nil {
				return err
			}
			b, err := os.ReadFile(tempPath)
			if err != nil {
				return err
			}
			raw = b
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "downloading package")
	}
	return raw, nil
}

// GetPackageMetadataFile reads a single file (e.g. the .cabal file) out
// of the locally cached, already-verified index tarball for pkgID,
// without touching the network.
func (c *Client) GetPackageMetadataFile(pkgID tuf.PackageID, filename string) ([]byte, error) {
	buf, ok, err := c.cache.GetFromIndex(pkgID, filename)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Errorf("%s not found in index for %s-%s", filename, pkgID.Name, pkgID.Version)
	}
	return buf, nil
}
