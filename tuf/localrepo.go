package tuf

import (
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

// localRepository is a Repository backed purely by an already-populated
// LocalCache: WithRemote is satisfied entirely from disk, WithMirror is a
// no-op scope. Grounded on the teacher's tuf/local_repo.go, generalized
// from "read one role file" to the full Repository interface so it can
// stand in for the HTTP adapter in tests and in fully offline/air-gapped
// operation against a pre-bootstrapped cache.
type localRepository struct {
	repoLogger
	cache *LocalCache
}

// NewLocalRepository wraps cache as a Repository that never reaches the
// network: every WithRemote call is satisfied by what's already on disk.
func NewLocalRepository(cache *LocalCache, logger log.Logger) Repository {
	return &localRepository{repoLogger: repoLogger{logger}, cache: cache}
}

func (r *localRepository) WithRemote(file RemoteFile, cb RemoteCallback) error {
	name, err := remoteFileCacheName(file)
	if err != nil {
		return err
	}
	path, ok := r.cache.GetCached(name)
	if !ok {
		return errors.Errorf("no local copy of %q available", name)
	}
	return cb(SelectedFormat{Format: FormatUncompressed, Size: -1}, path)
}

func (r *localRepository) GetCached(name string) (string, bool) { return r.cache.GetCached(name) }

func (r *localRepository) GetCachedRoot() (string, error) { return r.cache.GetCachedRoot() }

func (r *localRepository) ClearCache() error { return r.cache.ClearCache() }

func (r *localRepository) GetFromIndex(pkgID PackageID, filename string) ([]byte, bool, error) {
	return r.cache.GetFromIndex(pkgID, filename)
}

func (r *localRepository) WithMirror(scope func() error) error {
	return scope()
}

func remoteFileCacheName(file RemoteFile) (string, error) {
	switch file.Kind {
	case RemoteTimestamp:
		return timestampFileName, nil
	case RemoteRoot:
		return rootFileName, nil
	case RemoteSnapshot:
		return snapshotFileName, nil
	case RemoteMirrors:
		return mirrorsFileName, nil
	case RemoteIndex:
		return IndexFileName, nil
	case RemoteTargetsRole:
		return file.RoleName + ".json", nil
	default:
		return "", errors.Errorf("local repository cannot serve remote file kind %d", file.Kind)
	}
}
