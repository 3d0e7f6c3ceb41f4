package upload

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
)

// SupportedChecksumAlgorithms lists the digest names accepted by Digest, in
// the order advertised to clients.
var SupportedChecksumAlgorithms = []string{"md5", "sha1", "sha256"}

var hashFactories = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
}

// Digest hashes data with the named algorithm. ok is false for unknown names.
func Digest(algorithm string, data []byte) (sum []byte, ok bool) {
	factory, ok := hashFactories[algorithm]
	if !ok {
		return nil, false
	}
	h := factory()
	h.Write(data)
	return h.Sum(nil), true
}

// IsSupportedChecksum reports whether algorithm can be passed to Digest.
func IsSupportedChecksum(algorithm string) bool {
	_, ok := hashFactories[algorithm]
	return ok
}
