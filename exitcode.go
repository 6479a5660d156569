package security

import (
	"github.com/pkg/errors"

	"github.com/zerobuzz/hackage-security/tuf"
)

// Exit codes for the client-facing operations (check-for-updates,
// download-package, bootstrap), per the documented convention: 0
// success, 1 verification failure, 2 transport failure after all
// mirrors are exhausted, 3 misuse.
const (
	ExitOK                = 0
	ExitVerificationFail  = 1
	ExitTransportFail     = 2
	ExitMisuse            = 3
)

// Classify maps an error returned by Bootstrap, CheckForUpdates or
// DownloadPackage onto one of the exit codes above, so a command-line
// wrapper doesn't need to know the tuf package's error types itself.
func Classify(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		invalidFileInfo    *tuf.ErrInvalidFileInfo
		unknownKey         *tuf.ErrUnknownKey
		thresholdNotMet    *tuf.ErrSignatureThresholdNotMet
		invalidSignature   *tuf.ErrInvalidSignature
		expired            *tuf.ErrExpired
		versionRollback    *tuf.ErrVersionRollback
		wrongType          *tuf.ErrWrongType
		delegationUnresolved *tuf.ErrDelegationUnresolved
		fileTooLarge       *tuf.ErrFileTooLarge
	)
	switch {
	case errors.As(err, &invalidFileInfo),
		errors.As(err, &unknownKey),
		errors.As(err, &thresholdNotMet),
		errors.As(err, &invalidSignature),
		errors.As(err, &expired),
		errors.As(err, &versionRollback),
		errors.As(err, &wrongType),
		errors.As(err, &delegationUnresolved),
		errors.As(err, &fileTooLarge):
		return ExitVerificationFail
	}

	var customTransport *tuf.ErrCustomTransport
	if errors.As(err, &customTransport) {
		return ExitTransportFail
	}
	if errors.Is(err, tuf.ErrNoMirrorSelected) {
		return ExitMisuse
	}

	// Anything else (bad configuration, a missing local root, an
	// unmarshal failure on a document that *did* pass FileInfo
	// verification) is treated as misuse rather than guessed at.
	return ExitMisuse
}
