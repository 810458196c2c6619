// Package shadow extracts hash fields from shadow-style files:
// colon-separated records, username first, hash second.
package shadow

import (
	"fmt"
	"os"
	"strings"
)

// LookupHash returns the hash field for a username. Blank lines and
// lines starting with '#' are skipped.
func LookupHash(path, username string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("shadow: cannot open %s: %w", path, err)
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		if parts[0] != username {
			continue
		}
		if len(parts) < 2 {
			return "", fmt.Errorf("shadow: malformed entry for %q", username)
		}
		return parts[1], nil
	}
	return "", fmt.Errorf("shadow: user %q not found", username)
}

// Crackable reports whether the hash field holds a real hash rather
// than a locked/placeholder marker.
func Crackable(hash string) bool {
	switch hash {
	case "", "!", "*", "x":
		return false
	}
	return true
}

// DetectAlg names the hash algorithm from its prefix, for logging and
// sanity checks.
func DetectAlg(fullHash string) (string, error) {
	switch {
	case strings.HasPrefix(fullHash, "$apr1$"):
		return "apr1", nil
	case strings.HasPrefix(fullHash, "$1$"):
		return "md5", nil
	case strings.HasPrefix(fullHash, "$5$"):
		return "sha256", nil
	case strings.HasPrefix(fullHash, "$6$"):
		return "sha512", nil
	case strings.HasPrefix(fullHash, "$2a$"), strings.HasPrefix(fullHash, "$2b$"), strings.HasPrefix(fullHash, "$2y$"):
		return "bcrypt", nil
	case strings.HasPrefix(fullHash, "$y$"), strings.HasPrefix(fullHash, "$7$"):
		return "yescrypt", nil
	default:
		return "", fmt.Errorf("shadow: unrecognized hash format")
	}
}
