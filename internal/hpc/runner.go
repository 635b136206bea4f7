package hpc

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"polaris/internal/logging"
)

// ErrBudgetExhausted is returned when the daily SSH budget is spent.
var ErrBudgetExhausted = errors.New("daily ssh connection budget exhausted")

// Runner executes one command on a remote host. Implementations wrap
// ssh or a test stub.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (stdout, stderr string, err error)
}

// SSHRunner runs commands over the system ssh client, charging each
// connection against the daily budget.
type SSHRunner struct {
	host   string
	budget *Budget
}

// NewSSHRunner creates a runner for the given ssh host alias.
func NewSSHRunner(host string, budget *Budget) *SSHRunner {
	return &SSHRunner{host: host, budget: budget}
}

// Run executes the command with the given timeout. The budget is
// charged before the connection attempt; a refused budget never
// touches the network.
func (r *SSHRunner) Run(ctx context.Context, command string, timeout time.Duration) (string, string, error) {
	if r.budget != nil {
		if !r.budget.Allow() {
			return "", "", ErrBudgetExhausted
		}
		if err := r.budget.Increment(); err != nil {
			logging.Get(logging.CategoryHPC).Warnf("budget increment failed: %v", err)
		}
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "ssh", "-o", "ConnectTimeout=10", r.host, command)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	err := cmd.Run()
	return out.String(), errBuf.String(), err
}

// mfaIndicators mark an expired authentication session rather than a
// transient failure.
var mfaIndicators = []string{
	"permission denied",
	"publickey",
	"authentication failed",
	"connection closed by remote host",
}

// MFAExpired reports whether the stderr of a failed command points at
// an expired MFA/auth session.
func MFAExpired(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, indicator := range mfaIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
