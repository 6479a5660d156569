package security

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerobuzz/hackage-security/tuf"
)

func TestBootstrapSeedsCacheFromSeedDirOnFirstRun(t *testing.T) {
	seedDir := t.TempDir()
	fixture := newFixtureRepo(time.Now().Add(24 * time.Hour))
	fixture.writeToCache(t, seedDir)

	repoDir := t.TempDir()
	client, err := Bootstrap(Config{LocalRepoPath: repoDir, Offline: true}, seedDir)
	require.NoError(t, err)
	assert.Equal(t, tuf.Bootstrap, client.Phase())

	// The seeded role documents must actually have landed in the repo dir.
	_, err = os.Stat(filepath.Join(repoDir, tuf.RootFileName))
	assert.NoError(t, err)

	result, err := client.CheckForUpdates()
	require.NoError(t, err)
	assert.Equal(t, 1, result.TimestampVersion)
	assert.Equal(t, tuf.Fresh, client.Phase())
}

func TestBootstrapIgnoresSeedDirWhenCacheAlreadyHasRoot(t *testing.T) {
	repoDir := t.TempDir()
	fixture := newFixtureRepo(time.Now().Add(24 * time.Hour))
	fixture.writeToCache(t, repoDir)

	otherSeed := t.TempDir() // deliberately empty; must not be consulted
	client, err := Bootstrap(Config{LocalRepoPath: repoDir, Offline: true}, otherSeed)
	require.NoError(t, err)
	assert.Equal(t, tuf.Bootstrap, client.Phase())
}

func TestBootstrapFailsWithoutRootOrSeed(t *testing.T) {
	repoDir := t.TempDir()
	_, err := Bootstrap(Config{LocalRepoPath: repoDir, Offline: true}, "")
	require.Error(t, err)
}
