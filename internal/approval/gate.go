package approval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"polaris/internal/config"
	"polaris/internal/logging"
)

// Transport delivers an approval request to the user out of band.
// The chat transport implements this with two inline buttons whose
// callback payloads are "approve:<id>" and "deny:<id>".
type Transport interface {
	SendApprovalRequest(ctx context.Context, text, callbackID string) error
	SendMessage(ctx context.Context, text string) error
}

// Decision is the outcome of one gated execution.
type Decision struct {
	Approved   bool      `json:"approved"`
	Result     string    `json:"result,omitempty"`
	Level      RiskLevel `json:"approval_level"`
	ApprovedBy string    `json:"approved_by"`
}

// ExecFunc is the deferred tool execution, called only after approval.
type ExecFunc func(ctx context.Context) (string, error)

// Gate suspends non-AUTO tool executions on out-of-band decisions.
// Many approvals may be in flight at once; each waits on its own
// single-shot channel keyed by an opaque callback id.
type Gate struct {
	cfg config.ApprovalConfig

	mu      sync.Mutex
	pending map[string]chan bool
}

// NewGate creates a gate with the configured timeouts.
func NewGate(cfg config.ApprovalConfig) *Gate {
	return &Gate{cfg: cfg, pending: make(map[string]chan bool)}
}

// timeoutFor applies configuration overrides on top of the level
// defaults.
func (g *Gate) timeoutFor(level RiskLevel) time.Duration {
	switch level {
	case RiskCritical:
		if g.cfg.CriticalTimeout > 0 {
			return g.cfg.CriticalTimeout
		}
	case RiskConfirm:
		if g.cfg.ConfirmTimeout > 0 {
			return g.cfg.ConfirmTimeout
		}
	}
	return DefaultTimeout(level)
}

// ExecuteWithApproval runs the tool under its risk policy.
//
// AUTO runs immediately and never touches the transport. CONFIRM and
// CRITICAL without a transport are denied outright. Otherwise an
// approval request goes out and the call parks until a callback or
// the level's timeout resolves it; only an approval runs exec.
func (g *Gate) ExecuteWithApproval(ctx context.Context, tool string, args map[string]any, exec ExecFunc, transport Transport) (Decision, error) {
	log := logging.Get(logging.CategoryApproval)
	level := RiskOf(tool)

	if level == RiskAuto {
		result, err := exec(ctx)
		if err != nil {
			return Decision{Approved: true, Level: level, ApprovedBy: "auto"}, err
		}
		return Decision{Approved: true, Result: result, Level: level, ApprovedBy: "auto"}, nil
	}

	if transport == nil {
		log.Warnf("tool %s needs %s approval but no transport is attached; denying", tool, level)
		return Decision{Approved: false, Level: level, ApprovedBy: "no_transport"}, nil
	}

	id := newCallbackID()
	decision := g.park(id)
	defer g.forget(id)

	text := fmt.Sprintf("⚠️ 승인 필요 [%s]\n도구: %s\n인자: %v", level, tool, args)
	if err := transport.SendApprovalRequest(ctx, text, id); err != nil {
		return Decision{Approved: false, Level: level, ApprovedBy: "send_failed"}, fmt.Errorf("approval request failed: %w", err)
	}

	timeout := g.timeoutFor(level)
	select {
	case approved := <-decision:
		if !approved {
			log.Infof("tool %s denied by user", tool)
			return Decision{Approved: false, Level: level, ApprovedBy: "user"}, nil
		}
		result, err := exec(ctx)
		if err != nil {
			return Decision{Approved: true, Level: level, ApprovedBy: "user"}, err
		}
		return Decision{Approved: true, Result: result, Level: level, ApprovedBy: "user"}, nil

	case <-time.After(timeout):
		log.Warnf("approval for %s timed out after %v", tool, timeout)
		_ = transport.SendMessage(ctx, fmt.Sprintf("⏰ %s 승인 요청이 시간 초과로 거부되었어요.", tool))
		return Decision{Approved: false, Level: level, ApprovedBy: "timeout"}, nil

	case <-ctx.Done():
		return Decision{Approved: false, Level: level, ApprovedBy: "cancelled"}, ctx.Err()
	}
}

// HandleCallback resolves a pending approval from a button payload of
// the form "approve:<id>" or "deny:<id>". The returned string is the
// user-visible acknowledgement; unknown or already-resolved ids get
// "expired".
func (g *Gate) HandleCallback(data string) string {
	action, id, ok := strings.Cut(data, ":")
	if !ok {
		return "expired"
	}

	g.mu.Lock()
	ch, found := g.pending[id]
	if found {
		delete(g.pending, id)
	}
	g.mu.Unlock()

	if !found {
		return "expired"
	}

	switch action {
	case "approve":
		ch <- true
		return "승인했어요 ✅"
	case "deny":
		ch <- false
		return "거부했어요 ❌"
	default:
		// Unknown verb: treat as deny, the safe terminal.
		ch <- false
		return "expired"
	}
}

// PendingCount returns how many approvals are in flight.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

func (g *Gate) park(id string) chan bool {
	ch := make(chan bool, 1)
	g.mu.Lock()
	g.pending[id] = ch
	g.mu.Unlock()
	return ch
}

func (g *Gate) forget(id string) {
	g.mu.Lock()
	delete(g.pending, id)
	g.mu.Unlock()
}

// newCallbackID is a short opaque id: the first 8 hex chars of a v4
// UUID are plenty for the handful of in-flight approvals.
func newCallbackID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
