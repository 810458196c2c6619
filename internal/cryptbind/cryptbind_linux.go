//go:build linux

package cryptbind

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <pthread.h>
#include <stdlib.h>
#include <string.h>

typedef char *(*crypt_ra_fn)(const char *, const char *, void **, int *);
typedef char *(*crypt_fn)(const char *, const char *);

static void *bind_handle;
static crypt_ra_fn bind_crypt_ra;
static crypt_fn bind_crypt_legacy;
static pthread_mutex_t bind_mu = PTHREAD_MUTEX_INITIALIZER;
static pthread_key_t bind_scratch_key;

// Per-thread scratch for crypt_ra: the library allocates and resizes
// the data block through the pointer pair; the key destructor frees it
// when the owning thread exits.
struct bind_scratch {
	void *data;
	int size;
};

static void bind_scratch_free(void *p) {
	struct bind_scratch *s = (struct bind_scratch *)p;
	if (s == NULL) {
		return;
	}
	free(s->data);
	free(s);
}

// bind_load probes one library name. A library that loads but exports
// neither symbol is closed and rejected.
static int bind_load(const char *name) {
	void *h = dlopen(name, RTLD_NOW);
	if (h == NULL) {
		return 0;
	}
	crypt_ra_fn ra = (crypt_ra_fn)dlsym(h, "crypt_ra");
	crypt_fn legacy = NULL;
	if (ra == NULL) {
		legacy = (crypt_fn)dlsym(h, "crypt");
		if (legacy == NULL) {
			dlclose(h);
			return 0;
		}
	}
	bind_handle = h;
	bind_crypt_ra = ra;
	bind_crypt_legacy = legacy;
	if (ra != NULL) {
		pthread_key_create(&bind_scratch_key, bind_scratch_free);
	}
	return 1;
}

static int bind_have_ra(void) {
	return bind_crypt_ra != NULL;
}

// bind_wrap returns a malloc'd copy of the crypt output, or NULL. The
// reentrant entry uses the calling thread's scratch; the legacy entry
// is serialized under one mutex.
static char *bind_wrap(const char *key, const char *setting) {
	char *out = NULL;
	if (bind_crypt_ra != NULL) {
		struct bind_scratch *s = pthread_getspecific(bind_scratch_key);
		if (s == NULL) {
			s = (struct bind_scratch *)calloc(1, sizeof(*s));
			if (s == NULL) {
				return NULL;
			}
			pthread_setspecific(bind_scratch_key, s);
		}
		out = bind_crypt_ra(key, setting, &s->data, &s->size);
		return out == NULL ? NULL : strdup(out);
	}
	pthread_mutex_lock(&bind_mu);
	out = bind_crypt_legacy(key, setting);
	if (out != NULL) {
		out = strdup(out);
	}
	pthread_mutex_unlock(&bind_mu);
	return out;
}

static void bind_close(void) {
	if (bind_handle != NULL) {
		dlclose(bind_handle);
		bind_handle = NULL;
		bind_crypt_ra = NULL;
		bind_crypt_legacy = NULL;
	}
}
*/
import "C"

import (
	"sync"
	"unsafe"
)

var (
	loadOnce sync.Once
	loadErr  error
	loadedAs string
)

// Load probes the library list and binds the first usable crypt entry
// point. It is idempotent; every CryptWrap call goes through it.
func Load() error {
	loadOnce.Do(func() {
		for _, name := range libNames {
			cname := C.CString(name)
			ok := C.bind_load(cname) == 1
			C.free(unsafe.Pointer(cname))
			if ok {
				loadedAs = name
				return
			}
		}
		loadErr = ErrNoCryptFunction
	})
	return loadErr
}

// LibraryName reports which library won the probe, or "" before a
// successful Load.
func LibraryName() string {
	return loadedAs
}

// Reentrant reports whether the binding resolved crypt_ra.
func Reentrant() bool {
	if Load() != nil {
		return false
	}
	return C.bind_have_ra() == 1
}

// CryptWrap hashes candidate under the given setting. The second
// return is false when the library yields no output or the setting is
// empty; the error is non-nil only when no crypt function could be
// bound at all.
func CryptWrap(candidate, setting string) (string, bool, error) {
	if err := Load(); err != nil {
		return "", false, err
	}
	if setting == "" {
		return "", false, nil
	}

	ckey := C.CString(candidate)
	csetting := C.CString(setting)
	out := C.bind_wrap(ckey, csetting)
	C.free(unsafe.Pointer(ckey))
	C.free(unsafe.Pointer(csetting))

	if out == nil {
		return "", false, nil
	}
	hashed := C.GoString(out)
	C.free(unsafe.Pointer(out))
	return hashed, true, nil
}

// Close releases the library handle at process shutdown. Per-thread
// scratch blocks are freed by their pthread key destructor.
func Close() {
	C.bind_close()
}
