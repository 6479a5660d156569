package tuf

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
)

// hexDigest computes the hex-encoded digest of raw under algo. Unknown
// algorithms yield an empty string, which simply never matches a
// declared digest in FileInfo.Matches.
func hexDigest(algo HashAlgo, raw []byte) string {
	switch algo {
	case HashSHA256:
		sum := sha256.Sum256(raw)
		return hex.EncodeToString(sum[:])
	case HashSHA512:
		sum := sha512.Sum512(raw)
		return hex.EncodeToString(sum[:])
	default:
		return ""
	}
}

// fileInfoFor builds a FileInfo over raw with digests for both supported
// algorithms; FileInfoFor is its exported form.
func fileInfoFor(raw []byte) FileInfo {
	return FileInfo{
		Length: int64(len(raw)),
		Hashes: map[HashAlgo]string{
			HashSHA256: hexDigest(HashSHA256, raw),
			HashSHA512: hexDigest(HashSHA512, raw),
		},
	}
}

// FileInfoFor computes the FileInfo of raw, for a caller outside this
// package that has just downloaded bytes and needs to compare them
// against a declared FileInfo via Matches.
func FileInfoFor(raw []byte) FileInfo { return fileInfoFor(raw) }
