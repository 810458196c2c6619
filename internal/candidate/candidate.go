// Package candidate maps non-negative indices onto candidate password
// strings in variable-length lexicographic order: all length-1 strings
// first, then length-2, and so on. Within a length the ordering is
// plain base-N with digit 0 = alphabet[0].
package candidate

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Alphabet is the canonical 79-character candidate alphabet:
// uppercase, lowercase, digits, then 17 symbols.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"abcdefghijklmnopqrstuvwxyz" +
	"0123456789" +
	"@#%^&*()_+-=.,:;?"

// AlphabetSize is an invariant; configurations with any other size are
// rejected by Validate.
const AlphabetSize = 79

var (
	ErrNegativeIndex    = errors.New("candidate: negative index")
	ErrAlphabetTooSmall = errors.New("candidate: alphabet must have at least 2 characters")
	ErrIndexOverflow    = errors.New("candidate: index exceeds representable space")
	ErrNotInAlphabet    = errors.New("candidate: character outside alphabet")
	ErrEmptyCandidate   = errors.New("candidate: empty candidate string")
)

// Validate checks an alphabet against the canonical constraints: the
// pinned size of 79 and no duplicate characters.
func Validate(alphabet string) error {
	if len(alphabet) != AlphabetSize {
		return fmt.Errorf("candidate: alphabet has %d characters, want %d", len(alphabet), AlphabetSize)
	}
	var seen [256]bool
	for i := 0; i < len(alphabet); i++ {
		if seen[alphabet[i]] {
			return fmt.Errorf("candidate: duplicate character %q in alphabet", alphabet[i])
		}
		seen[alphabet[i]] = true
	}
	return nil
}

// FromIndex decodes index i into its candidate string. Index 0 is the
// first single-character candidate; index len(alphabet) is the first
// two-character candidate.
func FromIndex(i int64, alphabet string) (string, error) {
	base := int64(len(alphabet))
	if i < 0 {
		return "", ErrNegativeIndex
	}
	if base < 2 {
		return "", ErrAlphabetTooSmall
	}

	// Walk per-length blocks: there are base^L candidates of length L.
	length := 1
	block := base
	rem := i
	for rem >= block {
		rem -= block
		if block > math.MaxInt64/base {
			return "", ErrIndexOverflow
		}
		block *= base
		length++
	}

	out := make([]byte, length)
	for p := length - 1; p >= 0; p-- {
		out[p] = alphabet[rem%base]
		rem /= base
	}
	return string(out), nil
}

// IndexOf is the inverse of FromIndex: it maps a candidate string back
// to its index.
func IndexOf(s, alphabet string) (int64, error) {
	base := int64(len(alphabet))
	if base < 2 {
		return 0, ErrAlphabetTooSmall
	}
	if s == "" {
		return 0, ErrEmptyCandidate
	}

	var offset int64
	for i := 0; i < len(s); i++ {
		pos := strings.IndexByte(alphabet, s[i])
		if pos < 0 {
			return 0, fmt.Errorf("%w: %q", ErrNotInAlphabet, s[i])
		}
		if offset > (math.MaxInt64-int64(pos))/base {
			return 0, ErrIndexOverflow
		}
		offset = offset*base + int64(pos)
	}

	start, err := blockStart(len(s), base)
	if err != nil {
		return 0, err
	}
	if start > math.MaxInt64-offset {
		return 0, ErrIndexOverflow
	}
	return start + offset, nil
}

// SpaceSize returns the number of candidates with length in
// [1, maxLen], i.e. one past the last valid index for that bound.
func SpaceSize(maxLen int, alphabet string) (int64, error) {
	base := int64(len(alphabet))
	if base < 2 {
		return 0, ErrAlphabetTooSmall
	}
	if maxLen < 1 {
		return 0, fmt.Errorf("candidate: max length %d, want >= 1", maxLen)
	}
	return blockStart(maxLen+1, base)
}

// blockStart returns the index of the first candidate of the given
// length: sum of base^k for k in [1, length).
func blockStart(length int, base int64) (int64, error) {
	var start int64
	block := base
	for k := 1; k < length; k++ {
		if start > math.MaxInt64-block {
			return 0, ErrIndexOverflow
		}
		start += block
		if k+1 == length {
			break
		}
		if block > math.MaxInt64/base {
			return 0, ErrIndexOverflow
		}
		block *= base
	}
	return start, nil
}
