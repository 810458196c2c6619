// Package cryptbind loads the platform crypt library at runtime and
// exposes a single thread-safe verification primitive. The binding is
// process-wide: the first successful load is retained until Close.
package cryptbind

import "errors"

// ErrNoCryptFunction is returned when no probed library exports
// crypt_ra or crypt.
var ErrNoCryptFunction = errors.New("cryptbind: no crypt function found")

// libNames is the probe order. libxcrypt variants first, then the
// legacy libcrypt sonames, then glibc itself.
var libNames = []string{
	"libxcrypt.so.2",
	"libxcrypt.so.1",
	"libxcrypt.so.0",
	"libcrypt.so.2",
	"libcrypt.so.1",
	"libcrypt.so",
	"libc.so.6",
}
