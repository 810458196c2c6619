// Package verifier answers "does this candidate produce the stored
// hash". Strategy selection happens once, from the hash prefix: APR1
// hashes go through an external openssl child, bcrypt hashes through
// the in-process bcrypt implementation, everything else through the
// platform crypt binding.
package verifier

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"shadowcrack/internal/cryptbind"
)

// Verifier checks one candidate against the stored hash it was built
// for.
type Verifier interface {
	Verify(candidate string) (bool, error)
}

// ErrNotCrackable marks locked or placeholder shadow entries.
var ErrNotCrackable = errors.New("verifier: stored hash is not crackable")

// FatalError wraps failures that doom every candidate of a slice,
// such as a missing crypt library. The pool aborts the slice when a
// verify error carries Fatal() == true.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("verifier: fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func (e *FatalError) Fatal() bool { return true }

// New selects the verification strategy for a stored hash.
func New(storedHash string) (Verifier, error) {
	switch storedHash {
	case "", "!", "*", "x":
		return nil, ErrNotCrackable
	}
	switch {
	case strings.HasPrefix(storedHash, "$apr1$"):
		return newAPR1(storedHash)
	case strings.HasPrefix(storedHash, "$2a$"),
		strings.HasPrefix(storedHash, "$2b$"),
		strings.HasPrefix(storedHash, "$2y$"):
		return &bcryptVerifier{storedHash: storedHash}, nil
	default:
		return &nativeVerifier{storedHash: storedHash}, nil
	}
}

// nativeVerifier delegates to the crypt binding; the stored hash
// doubles as the crypt setting.
type nativeVerifier struct {
	storedHash string
}

func (v *nativeVerifier) Verify(candidate string) (bool, error) {
	out, ok, err := cryptbind.CryptWrap(candidate, v.storedHash)
	if err != nil {
		return false, &FatalError{Err: err}
	}
	if !ok {
		return false, nil
	}
	return out == v.storedHash, nil
}

// bcryptVerifier keeps bcrypt in-process; the platform crypt usually
// cannot hash $2b$ settings.
type bcryptVerifier struct {
	storedHash string
}

func (v *bcryptVerifier) Verify(candidate string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(v.storedHash), []byte(candidate))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}
