//go:build !linux

package cryptbind

// The binding is Linux-only; elsewhere every load fails with the
// distinct no-crypt-function error so callers degrade the same way
// they would on a Linux host without a crypt library.

func Load() error {
	return ErrNoCryptFunction
}

func LibraryName() string {
	return ""
}

func Reentrant() bool {
	return false
}

func CryptWrap(candidate, setting string) (string, bool, error) {
	return "", false, ErrNoCryptFunction
}

func Close() {}
