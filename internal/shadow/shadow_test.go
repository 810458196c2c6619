package shadow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeShadow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shadow")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLookupHash(t *testing.T) {
	t.Parallel()

	path := writeShadow(t, `# comment line

root:$6$saltxxxx$abcdef:19000:0:99999:7:::
daemon:*:19000::
alice:$y$j9T$salt$hash:19001::
locked:!:19001::
`)

	tests := []struct {
		name     string
		username string
		want     string
		wantErr  bool
	}{
		{name: "first real entry", username: "root", want: "$6$saltxxxx$abcdef"},
		{name: "placeholder entry still returned", username: "daemon", want: "*"},
		{name: "yescrypt entry", username: "alice", want: "$y$j9T$salt$hash"},
		{name: "locked entry", username: "locked", want: "!"},
		{name: "missing user", username: "nobody", wantErr: true},
		{name: "comment is not a user", username: "# comment line", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := LookupHash(path, tt.username)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookupHashMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LookupHash("/nonexistent/shadow", "root")
	assert.Error(t, err)
}

func TestCrackable(t *testing.T) {
	t.Parallel()

	for _, h := range []string{"", "!", "*", "x"} {
		assert.False(t, Crackable(h), "hash %q", h)
	}
	assert.True(t, Crackable("$6$saltxxxx$abcdef"))
}

func TestDetectAlg(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hash string
		want string
	}{
		{hash: "$apr1$salt$h", want: "apr1"},
		{hash: "$1$salt$h", want: "md5"},
		{hash: "$5$salt$h", want: "sha256"},
		{hash: "$6$salt$h", want: "sha512"},
		{hash: "$2b$10$h", want: "bcrypt"},
		{hash: "$y$j9T$h", want: "yescrypt"},
		{hash: "$7$h", want: "yescrypt"},
	}
	for _, tt := range tests {
		got, err := DetectAlg(tt.hash)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := DetectAlg("plaintext")
	assert.Error(t, err)
}
