package tuf

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	kitmetrics "github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/generic"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

// ServerCapabilities is small, per-client (never process-wide, per the
// design notes) mutable state recording what a mirror has been observed
// to support. Updates are monotonic: once byte-range support is seen, it
// is assumed for the life of the Repository. A stale read is at most a
// missed optimization, never an incorrect incremental update, because
// the incremental path always falls back to a full download on failure.
type ServerCapabilities struct {
	mu           sync.Mutex
	acceptRanges bool
}

// Observe updates capabilities from a response's headers.
func (s *ServerCapabilities) Observe(resp *http.Response) {
	if resp == nil {
		return
	}
	if strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes") {
		s.mu.Lock()
		s.acceptRanges = true
		s.mu.Unlock()
	}
}

// SupportsRanges reports whether byte-range support has ever been seen.
func (s *ServerCapabilities) SupportsRanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acceptRanges
}

// HTTPRepositoryConfig configures an HTTP-backed Repository.
type HTTPRepositoryConfig struct {
	// Mirrors is the out-of-band mirror list. At least one is required.
	Mirrors []string
	// MaxResponseSize bounds metadata downloads; zero uses the default.
	MaxResponseSize int64
	// RequestTimeout bounds a single HTTP round trip.
	RequestTimeout time.Duration
	// Logger receives structured events; nil discards them.
	Logger log.Logger
	// Transport overrides the underlying http.RoundTripper, e.g. for
	// tests against an httptest.Server or to pin a custom CA pool.
	// nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// httpRepository is the HTTP adapter of §4.6: mirror selection with
// failover, capability discovery, bounded downloads and incremental
// index updates, layered over github.com/hashicorp/go-retryablehttp for
// the per-request retry/backoff policy on transient transport failures.
// Mirror-level failover (trying the *next mirror*) is this type's own
// responsibility; per-request retry against the *same* mirror is
// retryablehttp's.
type httpRepository struct {
	repoLogger

	cache   *LocalCache
	caps    *ServerCapabilities
	client  *http.Client
	maxSize int64

	oobMirrors     []string
	learnedMirrors []string
	learnedMu      sync.RWMutex

	selected   string
	selectedOK bool
	selMu      sync.Mutex

	mirrorFailovers   kitmetrics.Counter
	incrementalFallback kitmetrics.Counter
}

// NewHTTPRepository builds a Repository that fetches role files and
// packages from cfg.Mirrors, caching verified results into cache.
func NewHTTPRepository(cfg HTTPRepositoryConfig, cache *LocalCache) (Repository, error) {
	if len(cfg.Mirrors) == 0 {
		return nil, errors.New("at least one mirror is required")
	}
	rc := retryablehttp.NewClient()
	rc.Logger = nil // go-kit is this package's logging idiom, not retryablehttp's own
	rc.RetryMax = 3
	if cfg.RequestTimeout > 0 {
		rc.HTTPClient.Timeout = cfg.RequestTimeout
	}
	if cfg.Transport != nil {
		rc.HTTPClient.Transport = cfg.Transport
	}
	maxSize := cfg.MaxResponseSize
	if maxSize <= 0 {
		maxSize = DefaultMaxResponseSize
	}
	return &httpRepository{
		repoLogger:          repoLogger{cfg.Logger},
		cache:               cache,
		caps:                &ServerCapabilities{},
		client:              rc.StandardClient(),
		maxSize:             maxSize,
		oobMirrors:          append([]string{}, cfg.Mirrors...),
		mirrorFailovers:     generic.NewCounter("mirror_failovers"),
		incrementalFallback: generic.NewCounter("incremental_fallbacks"),
	}, nil
}

// SetLearnedMirrors records the mirror list from a freshly verified
// mirrors.json, appended after the out-of-band list per §4.6.
func (r *httpRepository) SetLearnedMirrors(mirrors []string) {
	r.learnedMu.Lock()
	defer r.learnedMu.Unlock()
	r.learnedMirrors = append([]string{}, mirrors...)
}

func (r *httpRepository) mirrorList() []string {
	r.learnedMu.RLock()
	defer r.learnedMu.RUnlock()
	out := make([]string, 0, len(r.oobMirrors)+len(r.learnedMirrors))
	out = append(out, r.oobMirrors...)
	out = append(out, r.learnedMirrors...)
	return out
}

// WithMirror selects the head of the mirror list, runs scope, and on a
// recoverable failure retries with the next mirror. The last mirror's
// error surfaces to the caller unchanged (§4.6).
func (r *httpRepository) WithMirror(scope func() error) error {
	mirrors := r.mirrorList()
	if len(mirrors) == 0 {
		return errors.New("no mirrors available: none configured out-of-band and none learned")
	}
	var lastErr error
	for i, m := range mirrors {
		r.setMirror(m)
		lastErr = scope()
		if lastErr == nil {
			r.clearMirror()
			return nil
		}
		r.Log("event", "mirror_failed", "mirror", m, "err", lastErr)
		if i < len(mirrors)-1 {
			r.mirrorFailovers.Add(1)
		}
	}
	r.clearMirror()
	return lastErr
}

func (r *httpRepository) setMirror(m string) {
	r.selMu.Lock()
	defer r.selMu.Unlock()
	r.selected = m
	r.selectedOK = true
}

func (r *httpRepository) clearMirror() {
	r.selMu.Lock()
	defer r.selMu.Unlock()
	r.selected = ""
	r.selectedOK = false
}

func (r *httpRepository) currentMirror() (string, bool) {
	r.selMu.Lock()
	defer r.selMu.Unlock()
	return r.selected, r.selectedOK
}

func (r *httpRepository) GetCached(name string) (string, bool) { return r.cache.GetCached(name) }

func (r *httpRepository) GetCachedRoot() (string, error) { return r.cache.GetCachedRoot() }

func (r *httpRepository) ClearCache() error { return r.cache.ClearCache() }

func (r *httpRepository) GetFromIndex(pkgID PackageID, filename string) ([]byte, bool, error) {
	return r.cache.GetFromIndex(pkgID, filename)
}

func (r *httpRepository) WithRemote(file RemoteFile, cb RemoteCallback) error {
	mirror, ok := r.currentMirror()
	if !ok {
		return ErrNoMirrorSelected
	}
	if file.Kind == RemoteIndex {
		return r.withIndex(mirror, file, cb)
	}
	return r.withSimpleFile(mirror, file, cb)
}

func remoteFileURLPath(file RemoteFile) (string, error) {
	switch file.Kind {
	case RemoteTimestamp:
		return timestampFileName, nil
	case RemoteRoot:
		return rootFileName, nil
	case RemoteSnapshot:
		return snapshotFileName, nil
	case RemoteMirrors:
		return mirrorsFileName, nil
	case RemotePkgTarGz:
		return path.Join("package", file.PkgID+".tar.gz"), nil
	case RemoteTargetsRole:
		return file.RoleName + ".json", nil
	default:
		return "", errors.Errorf("unsupported remote file kind %d", file.Kind)
	}
}

func (r *httpRepository) withSimpleFile(mirror string, file RemoteFile, cb RemoteCallback) error {
	urlPath, err := remoteFileURLPath(file)
	if err != nil {
		return err
	}
	uri := strings.TrimRight(mirror, "/") + "/" + urlPath

	resp, err := r.get(uri)
	if err != nil {
		return &ErrCustomTransport{Inner: err}
	}
	defer resp.Body.Close()
	r.caps.Observe(resp)
	if resp.StatusCode != http.StatusOK {
		return &ErrCustomTransport{Inner: errors.Errorf("GET %s: unexpected status %s", uri, resp.Status)}
	}

	bound := SizeBound{Kind: Exact, Bound: file.Size}
	if file.Size <= 0 {
		bound = SizeBound{Kind: Upper, Bound: r.maxSize}
	}
	staged, err := r.stageBody(resp.Body, urlPath, bound)
	if err != nil {
		return err
	}
	defer os.Remove(staged)

	return cb(SelectedFormat{Format: FormatUncompressed, Size: file.Size}, staged)
}

func (r *httpRepository) stageBody(body io.Reader, name string, bound SizeBound) (string, error) {
	f, err := r.cache.StageUnverified(strings.ReplaceAll(name, "/", "_") + ".*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	bounded := newBoundedReader(body, name, bound)
	if _, err := io.Copy(f, bounded); err != nil {
		os.Remove(f.Name())
		return "", errors.Wrap(err, "downloading "+name)
	}
	return f.Name(), nil
}

func (r *httpRepository) get(uri string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-store")
	return r.client.Do(req)
}

func (r *httpRepository) getRange(uri string, lo, hi int64) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", lo, hi-1))
	req.Header.Set("Cache-Control", "no-store")
	return r.client.Do(req)
}

// withIndex implements §4.6's incremental index update, falling back to
// a full download whenever the preconditions aren't met or the
// incremental attempt fails for any reason.
func (r *httpRepository) withIndex(mirror string, file RemoteFile, cb RemoteCallback) error {
	formats := file.Formats.Formats()
	if len(formats) == 0 {
		return errors.New("remote index request declared no formats")
	}

	if staged, selected, ok := r.tryIncrementalUpdate(mirror, file); ok {
		defer os.Remove(staged)
		return cb(selected, staged)
	}

	// Full download: prefer uncompressed when offered, since it's what
	// a later incremental update needs a local copy of.
	format := formats[0]
	for i, f := range formats {
		if f == FormatUncompressed {
			format = f
			break
		}
		if i == 0 {
			format = f
		}
	}
	urlPath := IndexFileName
	if format == FormatGzip {
		urlPath = IndexFileNameGz
	}
	uri := strings.TrimRight(mirror, "/") + "/" + urlPath

	resp, err := r.get(uri)
	if err != nil {
		return &ErrCustomTransport{Inner: err}
	}
	defer resp.Body.Close()
	r.caps.Observe(resp)
	if resp.StatusCode != http.StatusOK {
		return &ErrCustomTransport{Inner: errors.Errorf("GET %s: unexpected status %s", uri, resp.Status)}
	}

	idx := indexOfFormat(formats, file.Sizes, format)
	bound := SizeBound{Kind: Unknown}
	if idx >= 0 && idx < len(file.Sizes) {
		bound = SizeBound{Kind: Exact, Bound: file.Sizes[idx]}
	}
	staged, err := r.stageBody(resp.Body, urlPath, bound)
	if err != nil {
		return err
	}
	defer os.Remove(staged)
	size := int64(-1)
	if idx >= 0 && idx < len(file.Sizes) {
		size = file.Sizes[idx]
	}
	return cb(SelectedFormat{Format: format, Size: size}, staged)
}

func indexOfFormat(formats []Format, sizes []int64, f Format) int {
	for i, candidate := range formats {
		if candidate == f {
			return i
		}
	}
	return -1
}

// tryIncrementalUpdate attempts the byte-range suffix fetch. It returns
// ok=false for any reason at all — missing local copy, unsupported
// format, no range support, a non-206 response, or an I/O error — which
// the caller treats uniformly as "fall back to full download".
func (r *httpRepository) tryIncrementalUpdate(mirror string, file RemoteFile) (staged string, selected SelectedFormat, ok bool) {
	cachedPath, haveLocal := r.cache.GetCached(IndexFileName)
	if !haveLocal {
		r.Log("event", "update_impossible", "reason", NoLocalCopy.String())
		return "", SelectedFormat{}, false
	}
	if !file.Formats.Has(FormatUncompressed) {
		r.Log("event", "update_impossible", "reason", OnlyCompressed.String())
		return "", SelectedFormat{}, false
	}
	if !r.caps.SupportsRanges() {
		r.Log("event", "update_impossible", "reason", Unsupported.String())
		return "", SelectedFormat{}, false
	}
	idx := indexOfFormat(file.Formats.Formats(), file.Sizes, FormatUncompressed)
	if idx < 0 || idx >= len(file.Sizes) {
		return "", SelectedFormat{}, false
	}
	declaredLen := file.Sizes[idx]

	fi, err := os.Stat(cachedPath)
	if err != nil {
		return "", SelectedFormat{}, false
	}
	currentSize := fi.Size()
	if currentSize >= declaredLen {
		// nothing new, or a rollback the caller's version checks will
		// catch; either way an incremental update has nothing to add.
		return "", SelectedFormat{}, false
	}

	const backStep = 1024
	lo := currentSize - backStep
	if lo < 0 {
		lo = 0
	}

	uri := strings.TrimRight(mirror, "/") + "/" + IndexFileName
	resp, err := r.getRange(uri, lo, declaredLen)
	if err != nil {
		r.incrementalFallback.Add(1)
		r.Log("event", "update_failed", "cause", err)
		return "", SelectedFormat{}, false
	}
	defer resp.Body.Close()
	r.caps.Observe(resp)

	if resp.StatusCode != http.StatusPartialContent {
		// A 200 means the server ignored the Range header; any other
		// status is just a failure. Either way, fall back.
		r.incrementalFallback.Add(1)
		r.Log("event", "update_impossible", "reason", Unsupported.String(), "status", resp.StatusCode)
		return "", SelectedFormat{}, false
	}

	assembled, err := r.assembleIncremental(cachedPath, lo, resp.Body)
	if err != nil {
		r.incrementalFallback.Add(1)
		os.Remove(assembled)
		r.Log("event", "update_failed", "cause", err)
		return "", SelectedFormat{}, false
	}
	fi2, err := os.Stat(assembled)
	if err != nil || fi2.Size() != declaredLen {
		r.incrementalFallback.Add(1)
		os.Remove(assembled)
		return "", SelectedFormat{}, false
	}

	// A length match alone isn't enough: the assembled bytes must also
	// match the snapshot's pinned digest, or a server that served a
	// correct-length but wrong suffix would slip through to the caller
	// as a verified full download instead of falling back (§4.6).
	if len(file.PlainInfo.Hashes) > 0 {
		af, err := os.Open(assembled)
		if err != nil {
			r.incrementalFallback.Add(1)
			os.Remove(assembled)
			return "", SelectedFormat{}, false
		}
		verifyErr := file.PlainInfo.VerifyReader(af)
		af.Close()
		if verifyErr != nil {
			r.incrementalFallback.Add(1)
			r.Log("event", "update_failed", "cause", verifyErr)
			os.Remove(assembled)
			return "", SelectedFormat{}, false
		}
	}
	return assembled, SelectedFormat{Format: FormatUncompressed, Size: declaredLen}, true
}

// assembleIncremental rewrites the last backStep bytes of the cached tar
// (its trailer, which must be overwritten rather than preserved) and
// appends the newly fetched suffix, writing the result to a fresh
// staging file.
func (r *httpRepository) assembleIncremental(cachedPath string, keepUpTo int64, suffix io.Reader) (string, error) {
	src, err := os.Open(cachedPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	f, err := r.cache.StageUnverified("index-incremental.*")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.CopyN(f, src, keepUpTo); err != nil && err != io.EOF {
		return f.Name(), errors.Wrap(err, "copying retained prefix of cached index")
	}
	bounded := newBoundedReader(suffix, IndexFileName, SizeBound{Kind: Unknown})
	if _, err := io.Copy(f, bounded); err != nil {
		return f.Name(), errors.Wrap(err, "appending incremental suffix")
	}
	return f.Name(), nil
}
