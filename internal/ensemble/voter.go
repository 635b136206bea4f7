// Package ensemble runs the same classification several times in
// parallel and only trusts the answer when a quorum agrees. Low
// confidence or too few successful inferences degrade to the
// configured fallback label instead of guessing.
package ensemble

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"polaris/internal/config"
	"polaris/internal/logging"
)

// Valid classification labels. Anything else an inference returns is
// counted as a failure, not a vote.
const (
	LabelAction    = "ACTION"
	LabelFYI       = "FYI"
	LabelUncertain = "UNCERTAIN"
)

// ClassifyFunc is one independent inference. The voter calls it n
// times concurrently; it must be safe for concurrent use.
type ClassifyFunc func(ctx context.Context) (string, error)

// Result is the outcome of one ensemble vote.
type Result struct {
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Votes      []string `json:"votes"`
}

// Voter fans a classification out over n inferences and applies
// quorum and confidence thresholds to the tally.
type Voter struct {
	cfg config.VotingConfig

	auditMu sync.Mutex
}

// NewVoter creates a voter from the voting configuration.
func NewVoter(cfg config.VotingConfig) *Voter {
	return &Voter{cfg: cfg}
}

// auditRecord is one JSON line in the vote audit log.
type auditRecord struct {
	Timestamp string       `json:"timestamp"`
	EventType string       `json:"event_type"`
	Details   auditDetails `json:"details"`
}

type auditDetails struct {
	Subject         string   `json:"subject"`
	TotalInferences int      `json:"total_inferences"`
	Successful      int      `json:"successful"`
	Votes           []string `json:"votes"`
	Failures        []string `json:"failures"`
}

// VoteClassify runs the full ensemble for one item.
//
// All n inferences run concurrently. A vote counts only if the
// inference returned ACTION or FYI without error. Fewer successes than
// min_quorum, or a majority below the confidence threshold, yields the
// fallback category (confidence 0.0 in the quorum case, the observed
// confidence otherwise).
func (v *Voter) VoteClassify(ctx context.Context, subject string, classify ClassifyFunc) Result {
	log := logging.Get(logging.CategoryEnsemble)

	n := v.cfg.NInferences
	if n <= 0 {
		n = 1
	}

	raw := make([]string, n)
	errs := make([]error, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			raw[i], errs[i] = classify(gctx)
			return nil
		})
	}
	_ = g.Wait()

	var votes []string
	var failures []string
	for i := 0; i < n; i++ {
		switch {
		case errs[i] != nil:
			failures = append(failures, errs[i].Error())
		case raw[i] == LabelAction || raw[i] == LabelFYI:
			votes = append(votes, raw[i])
		default:
			failures = append(failures, fmt.Sprintf("invalid label: %q", raw[i]))
		}
	}

	v.audit(subject, n, votes, failures)

	if len(votes) < v.cfg.MinQuorum {
		log.Warnf("quorum not met: %d/%d for %q", len(votes), v.cfg.MinQuorum, subject)
		return Result{Category: v.fallback(), Confidence: 0.0, Votes: votes}
	}

	tally := map[string]int{}
	for _, vote := range votes {
		tally[vote]++
	}
	majority, count := LabelAction, tally[LabelAction]
	if tally[LabelFYI] > count {
		majority, count = LabelFYI, tally[LabelFYI]
	}
	confidence := float64(count) / float64(len(votes))

	if confidence < v.cfg.ConfidenceThreshold {
		log.Warnf("low confidence %.2f < %.2f for %q", confidence, v.cfg.ConfidenceThreshold, subject)
		return Result{Category: v.fallback(), Confidence: confidence, Votes: votes}
	}

	log.Infof("ensemble vote: %s (confidence=%.2f, votes=%d)", majority, confidence, len(votes))
	return Result{Category: majority, Confidence: confidence, Votes: votes}
}

func (v *Voter) fallback() string {
	if v.cfg.FallbackCategory != "" {
		return v.cfg.FallbackCategory
	}
	return LabelUncertain
}

// audit appends one JSON line per vote. Audit failures are logged and
// swallowed; a vote never fails because the log disk is full.
func (v *Voter) audit(subject string, total int, votes, failures []string) {
	if v.cfg.AuditLog == "" {
		return
	}
	rec := auditRecord{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		EventType: "ENSEMBLE_VOTE",
		Details: auditDetails{
			Subject:         subject,
			TotalInferences: total,
			Successful:      len(votes),
			Votes:           votes,
			Failures:        failures,
		},
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}

	v.auditMu.Lock()
	defer v.auditMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(v.cfg.AuditLog), 0o755); err != nil {
		logging.Get(logging.CategoryEnsemble).Warnf("audit dir: %v", err)
		return
	}
	f, err := os.OpenFile(v.cfg.AuditLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logging.Get(logging.CategoryEnsemble).Warnf("audit open: %v", err)
		return
	}
	defer f.Close()
	_, _ = f.Write(append(line, '\n'))
}
