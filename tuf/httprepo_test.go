package tuf

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTPRepository(t *testing.T, mirrors []string, cache *LocalCache) *httpRepository {
	t.Helper()
	repo, err := NewHTTPRepository(HTTPRepositoryConfig{Mirrors: mirrors}, cache)
	require.NoError(t, err)
	return repo.(*httpRepository)
}

func TestHTTPRepositoryWithMirrorRequiresScope(t *testing.T) {
	cache := newTestCache(t)
	repo := newTestHTTPRepository(t, []string{"http://127.0.0.1:0"}, cache)
	err := repo.WithRemote(RemoteFileTimestamp(), func(SelectedFormat, string) error { return nil })
	assert.Equal(t, ErrNoMirrorSelected, err)
}

func TestHTTPRepositoryFetchesTimestamp(t *testing.T) {
	payload := []byte(`{"signed":{"_type":"Timestamp","version":1}}`)
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/timestamp.json", r.URL.Path)
		w.Write(payload)
	}))
	defer svr.Close()

	cache := newTestCache(t)
	repo := newTestHTTPRepository(t, []string{svr.URL}, cache)

	var buf []byte
	var readErr error
	err := repo.WithMirror(func() error {
		return repo.WithRemote(RemoteFileTimestamp(), func(selected SelectedFormat, tempPath string) error {
			// tempPath is removed once this callback returns.
			assert.FileExists(t, tempPath)
			buf, readErr = os.ReadFile(tempPath)
			return nil
		})
	})
	require.NoError(t, err)
	require.NoError(t, readErr)
	assert.Equal(t, payload, buf)
}

func TestHTTPRepositoryMirrorFailover(t *testing.T) {
	badSvr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badSvr.Close()

	goodSvr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"signed":{"_type":"Timestamp","version":1}}`))
	}))
	defer goodSvr.Close()

	cache := newTestCache(t)
	repo := newTestHTTPRepository(t, []string{badSvr.URL, goodSvr.URL}, cache)

	var ok bool
	err := repo.WithMirror(func() error {
		return repo.WithRemote(RemoteFileTimestamp(), func(selected SelectedFormat, tempPath string) error {
			ok = true
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, ok, "failover to the second mirror must have succeeded")
}

func TestHTTPRepositoryAllMirrorsFail(t *testing.T) {
	badSvr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badSvr.Close()

	cache := newTestCache(t)
	repo := newTestHTTPRepository(t, []string{badSvr.URL}, cache)

	err := repo.WithMirror(func() error {
		return repo.WithRemote(RemoteFileTimestamp(), func(SelectedFormat, string) error { return nil })
	})
	assert.Error(t, err)
}

func TestHTTPRepositoryIncrementalIndexFallsBackWithoutRangeSupport(t *testing.T) {
	full := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Range"), "no prior local copy means no range request should be attempted")
		w.Write(full)
	}))
	defer svr.Close()

	cache := newTestCache(t)
	repo := newTestHTTPRepository(t, []string{svr.URL}, cache)

	var buf []byte
	var readErr error
	var selected SelectedFormat
	err := repo.WithMirror(func() error {
		return repo.WithRemote(
			RemoteFileIndex(UncompressedOnly(), []int64{int64(len(full))}, FileInfoFor(full)),
			func(sel SelectedFormat, tempPath string) error {
				selected = sel
				buf, readErr = os.ReadFile(tempPath)
				return nil
			})
	})
	require.NoError(t, err)
	assert.Equal(t, FormatUncompressed, selected.Format)
	require.NoError(t, readErr)
	assert.Equal(t, full, buf)
}

func TestHTTPRepositoryIncrementalIndexUpdate(t *testing.T) {
	cache := newTestCache(t)

	oldBody := make([]byte, 4096)
	for i := range oldBody {
		oldBody[i] = byte('a' + i%26)
	}
	newSuffix := []byte("-appended-package-entries-")
	fullNew := append(append([]byte{}, oldBody...), newSuffix...)

	// seed the cache with the "old" index so an incremental update has a
	// local copy to extend.
	staged, err := cache.StageUnverified("00-index.tar.*")
	require.NoError(t, err)
	_, err = staged.Write(oldBody)
	require.NoError(t, err)
	require.NoError(t, staged.Close())
	require.NoError(t, cache.CommitVerified(staged.Name(), IndexFileName))

	requestedRange := ""
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedRange = r.Header.Get("Range")
		w.Header().Set("Accept-Ranges", "bytes")
		if requestedRange == "" {
			w.Write(fullNew)
			return
		}
		// serve the suffix starting 1024 bytes before the old end
		w.WriteHeader(http.StatusPartialContent)
		w.Write(fullNew[len(oldBody)-1024:])
	}))
	defer svr.Close()

	repo := newTestHTTPRepository(t, []string{svr.URL}, cache)

	// prime capability discovery with one observed response carrying
	// Accept-Ranges, the way a prior timestamp/snapshot fetch would.
	repo.caps.acceptRanges = true

	var buf []byte
	var readErr error
	var selected SelectedFormat
	err = repo.WithMirror(func() error {
		return repo.WithRemote(
			RemoteFileIndex(UncompressedOnly(), []int64{int64(len(fullNew))}, FileInfoFor(fullNew)),
			func(sel SelectedFormat, tempPath string) error {
				selected = sel
				buf, readErr = os.ReadFile(tempPath)
				return nil
			})
	})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("bytes=3072-%d", len(fullNew)-1), requestedRange)
	assert.Equal(t, int64(len(fullNew)), selected.Size)

	require.NoError(t, readErr)
	assert.Equal(t, fullNew, buf)
}

func TestHTTPRepositoryIncrementalUpdateFallsBackOnDigestMismatch(t *testing.T) {
	cache := newTestCache(t)

	oldBody := make([]byte, 4096)
	for i := range oldBody {
		oldBody[i] = byte('a' + i%26)
	}
	newSuffix := []byte("-appended-package-entries-")
	fullNew := append(append([]byte{}, oldBody...), newSuffix...)
	// The server claims the correct length but actually serves a suffix
	// with different content, e.g. a concurrent writer on the mirror.
	suffixLen := len(fullNew) - (len(oldBody) - 1024)
	wrongSuffix := bytes.Repeat([]byte("z"), suffixLen)

	staged, err := cache.StageUnverified("00-index.tar.*")
	require.NoError(t, err)
	_, err = staged.Write(oldBody)
	require.NoError(t, err)
	require.NoError(t, staged.Close())
	require.NoError(t, cache.CommitVerified(staged.Name(), IndexFileName))

	fullRequestCount := 0
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Header.Get("Range") == "" {
			fullRequestCount++
			w.Write(fullNew)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(wrongSuffix)
	}))
	defer svr.Close()

	repo := newTestHTTPRepository(t, []string{svr.URL}, cache)
	repo.caps.acceptRanges = true

	var buf []byte
	var readErr error
	var selected SelectedFormat
	err = repo.WithMirror(func() error {
		return repo.WithRemote(
			RemoteFileIndex(UncompressedOnly(), []int64{int64(len(fullNew))}, FileInfoFor(fullNew)),
			func(sel SelectedFormat, tempPath string) error {
				selected = sel
				buf, readErr = os.ReadFile(tempPath)
				return nil
			})
	})
	require.NoError(t, err, "a digest mismatch must fall back to a full download, not fail the cycle")
	assert.Equal(t, 1, fullRequestCount)
	assert.Equal(t, FormatUncompressed, selected.Format)

	require.NoError(t, readErr)
	assert.Equal(t, fullNew, buf)
}
