package tuf

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRepositoryServesCachedFiles(t *testing.T) {
	cache := newTestCache(t)
	staged, err := cache.StageUnverified("root.json.*")
	require.NoError(t, err)
	_, err = staged.WriteString(`{"signed":{}}`)
	require.NoError(t, err)
	require.NoError(t, staged.Close())
	require.NoError(t, cache.CommitVerified(staged.Name(), rootFileName))

	repo := NewLocalRepository(cache, nil)

	var gotPath string
	err = repo.WithMirror(func() error {
		return repo.WithRemote(RemoteFileRoot(-1), func(selected SelectedFormat, tempPath string) error {
			gotPath = tempPath
			return nil
		})
	})
	require.NoError(t, err)

	buf, err := os.ReadFile(gotPath)
	require.NoError(t, err)
	assert.Equal(t, `{"signed":{}}`, string(buf))
}

func TestLocalRepositoryMissingFileErrors(t *testing.T) {
	cache := newTestCache(t)
	repo := NewLocalRepository(cache, nil)
	err := repo.WithRemote(RemoteFileTimestamp(), func(SelectedFormat, string) error { return nil })
	assert.Error(t, err)
}
