package verifier

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultAPR1Timeout caps one openssl invocation; on expiry the whole
// child process group is killed.
const DefaultAPR1Timeout = 5 * time.Second

// apr1Verifier shells out to `openssl passwd -apr1` for every
// candidate. The system crypt typically lacks APR1, so this is the
// pragmatic route; it is slow, and the campaign tolerates that because
// it stops on first match.
type apr1Verifier struct {
	storedHash  string
	salt        string
	opensslPath string
	timeout     time.Duration
}

func newAPR1(storedHash string) (*apr1Verifier, error) {
	// $apr1$<salt>$<hash> — the salt is the second $-delimited token.
	parts := strings.Split(storedHash, "$")
	if len(parts) < 4 || parts[2] == "" {
		return nil, fmt.Errorf("verifier: malformed apr1 hash %q", storedHash)
	}
	return &apr1Verifier{
		storedHash:  storedHash,
		salt:        parts[2],
		opensslPath: "openssl",
		timeout:     DefaultAPR1Timeout,
	}, nil
}

// Verify runs one child process. Spawn failure, non-zero exit, empty
// output, and timeout all count as a non-match.
func (v *apr1Verifier) Verify(candidate string) (bool, error) {
	cmd := exec.Command(v.opensslPath, "passwd", "-apr1", "-salt", v.salt, candidate)
	setProcessGroup(cmd)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Start(); err != nil {
		return false, nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(v.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return false, nil
		}
	case <-timer.C:
		killProcessGroup(cmd)
		<-done
		return false, nil
	}

	got := strings.TrimSpace(out.String())
	return got != "" && got == v.storedHash, nil
}
