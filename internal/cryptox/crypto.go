// Package cryptox holds content digests for chunk integrity checks and key
// derivation for server-side secrets.
package cryptox

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Algorithm identifies a supported digest.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	MD5    Algorithm = "md5"
)

func (a Algorithm) new() hash.Hash {
	if a == MD5 {
		return md5.New()
	}
	return sha256.New()
}

// DetectAlgorithm infers the digest algorithm from the shape of a hex
// string: 64 hex chars is SHA-256, 32 is MD5. Anything else is rejected.
func DetectAlgorithm(checksum string) (Algorithm, bool) {
	if !isHex(checksum) {
		return "", false
	}
	switch len(checksum) {
	case sha256.Size * 2:
		return SHA256, true
	case md5.Size * 2:
		return MD5, true
	}
	return "", false
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Digest returns the lowercase hex digest of data.
func Digest(alg Algorithm, data []byte) string {
	h := alg.new()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DigestReader hashes everything read from r.
func DigestReader(alg Algorithm, r io.Reader) (string, int64, error) {
	h := alg.new()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// MismatchError describes a checksum that does not match the content.
type MismatchError struct {
	Algorithm Algorithm
	Expected  string
	Actual    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s expected %s, got %s", e.Algorithm, e.Expected, e.Actual)
}

// VerifyChecksum compares declared with the digest of data. The algorithm
// is picked from the shape of declared. The returned bool reports whether a
// comparison took place at all; a declared value with an unrecognised shape
// is skipped. On success or skip, computed is the SHA-256 of data.
func VerifyChecksum(data []byte, declared string) (computed string, checked bool, err error) {
	computed = Digest(SHA256, data)

	alg, ok := DetectAlgorithm(strings.TrimSpace(declared))
	if !ok {
		return computed, false, nil
	}

	want := strings.ToLower(strings.TrimSpace(declared))
	got := computed
	if alg != SHA256 {
		got = Digest(alg, data)
	}

	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return computed, true, &MismatchError{Algorithm: alg, Expected: want, Actual: got}
	}
	return computed, true, nil
}

// DeriveKey expands secret into an n-byte key bound to purpose using
// HKDF-SHA256, so one configured secret can back several independent MACs.
func DeriveKey(secret []byte, purpose string, n int) ([]byte, error) {
	key := make([]byte, n)
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}
