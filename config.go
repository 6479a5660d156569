package security

import (
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/zerobuzz/hackage-security/tuf"
)

// Config bundles everything a Client needs to locate, cache and verify a
// package index. It maps directly onto tuf.Settings plus the ambient
// concerns (logging, transport) that tuf.Settings deliberately leaves to
// its caller.
type Config struct {
	// LocalRepoPath is the directory used for the trusted cache.
	// Bootstrap creates it if it is missing and, when given a seed
	// directory, seeds it if no root.json is already present.
	LocalRepoPath string

	// Mirrors is the out-of-band mirror list. At least one is required
	// unless Offline is set.
	Mirrors []string

	// Offline, when set, never touches the network: every check is
	// satisfied from whatever is already in LocalRepoPath.
	Offline bool

	// MaxResponseSize bounds a single metadata download; zero uses
	// tuf.DefaultMaxResponseSize.
	MaxResponseSize int64

	// RequestTimeout bounds a single HTTP round trip; zero means no
	// per-request timeout beyond the transport's own defaults.
	RequestTimeout time.Duration

	// Transport overrides the HTTP transport, e.g. to pin a custom CA
	// pool or inject a test double. nil uses http.DefaultTransport.
	Transport http.RoundTripper

	// Logger receives structured events. nil discards them.
	Logger log.Logger
}

// Verify checks that Config is internally consistent enough to build a
// Client from, grounded on the teacher's Settings.Verify that New calls
// before doing anything else.
func (c Config) Verify() error {
	if c.LocalRepoPath == "" {
		return errors.New("LocalRepoPath is required")
	}
	if !c.Offline && len(c.Mirrors) == 0 {
		return errors.New("at least one mirror is required unless Offline is set")
	}
	return nil
}

func (c Config) tufSettings() tuf.Settings {
	return tuf.Settings{
		LocalRepoPath:   c.LocalRepoPath,
		Mirrors:         c.Mirrors,
		MaxResponseSize: c.MaxResponseSize,
		RequestTimeout:  c.RequestTimeout,
	}
}

func (c Config) logger() log.Logger {
	if c.Logger == nil {
		return log.NewNopLogger()
	}
	return c.Logger
}
