// Package security implements a secure, TUF-derived client for a
// Hackage-style package index: given a bootstrap root of trust, it
// verifies timestamp, snapshot, mirrors and targets metadata before
// trusting a package index or downloading a package, following only
// mirrors and package bytes that check out against that chain of trust.
//
// See the TUF spec: https://theupdateframework.io/
package security

import (
	"encoding/json"
	"os"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/zerobuzz/hackage-security/tuf"
)

// Client is the entry point for checking and downloading from a secured
// package index. It owns a TrustState and a Repository. Its operations
// are not serialised against each other: an HTTP repository holds one
// selected-mirror slot shared by every operation, and the polling fields
// are not guarded by a lock.
type Client struct {
	cfg   Config
	cache *tuf.LocalCache
	repo  tuf.Repository
	state *tuf.TrustState
	clock clock.Clock
	log   log.Logger

	checkFrequency      time.Duration
	notificationHandler NotificationHandler
	ticker              *time.Ticker
	done                chan struct{}
}

// Bootstrap opens (or initializes) a Client against cfg. seedDir, if
// non-empty, is copied into cfg.LocalRepoPath before the cache is opened,
// for first-run installs that ship an embedded root.json; if
// LocalRepoPath already has a root.json, seedDir is ignored.
func Bootstrap(cfg Config, seedDir string, opts ...Option) (*Client, error) {
	if err := cfg.Verify(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	logger := cfg.logger()

	if err := os.MkdirAll(cfg.LocalRepoPath, 0755); err != nil {
		return nil, errors.Wrap(err, "creating local repo directory")
	}
	if _, err := os.Stat(cfg.LocalRepoPath + "/root.json"); os.IsNotExist(err) && seedDir != "" {
		if err := copyRecursive(seedDir, cfg.LocalRepoPath); err != nil {
			return nil, errors.Wrap(err, "seeding local cache from seed directory")
		}
	}

	cache, err := tuf.NewLocalCache(cfg.LocalRepoPath, logger)
	if err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg, cache: cache, clock: clock.C, log: logger, checkFrequency: defaultCheckFrequency}
	for _, opt := range opts {
		opt(c)
	}

	rootPath, err := cache.GetCachedRoot()
	if err != nil {
		return nil, errors.Wrap(err, "bootstrap requires a root.json in the local cache or seed directory")
	}
	root, err := decodeRoot(rootPath)
	if err != nil {
		return nil, err
	}
	trustedRoot, err := tuf.AcceptInitialRoot(root, c.clock.Now())
	if err != nil {
		return nil, errors.Wrap(err, "verifying bootstrap root")
	}

	if cfg.Offline {
		c.repo = tuf.NewLocalRepository(cache, logger)
	} else {
		c.repo, err = tuf.NewHTTPRepository(tuf.HTTPRepositoryConfig{
			Mirrors:         cfg.Mirrors,
			MaxResponseSize: cfg.MaxResponseSize,
			RequestTimeout:  cfg.RequestTimeout,
			Logger:          logger,
			Transport:       cfg.Transport,
		}, cache)
		if err != nil {
			return nil, err
		}
	}
	c.state = tuf.NewTrustState(trustedRoot)

	logger.Log("event", "bootstrap_complete", "phase", c.state.Phase().String())
	return c, nil
}

// Option configures a Client at Bootstrap time.
type Option func(*Client)

func decodeRoot(path string) (*tuf.Root, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening root.json")
	}
	defer f.Close()
	var r tuf.Root
	if err := json.NewDecoder(f).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decoding root.json")
	}
	return &r, nil
}

// Phase reports the client's current trust-state phase.
func (c *Client) Phase() tuf.Phase { return c.state.Phase() }
