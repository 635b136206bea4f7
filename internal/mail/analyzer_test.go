package mail

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"polaris/internal/config"
	"polaris/internal/ensemble"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func votingCfg(t *testing.T) config.VotingConfig {
	t.Helper()
	return config.VotingConfig{
		NInferences:         5,
		MinQuorum:           3,
		ConfidenceThreshold: 0.7,
		FallbackCategory:    ensemble.LabelUncertain,
		AuditLog:            filepath.Join(t.TempDir(), "audit.jsonl"),
		UncertainMsg:        "분류가 불확실해서 직접 확인이 필요해요.",
	}
}

func TestAnalyzeUnanimous(t *testing.T) {
	a := NewAnalyzer(votingCfg(t), "", nil, func(context.Context, Message) (string, error) {
		return ensemble.LabelAction, nil
	})
	got := a.Analyze(context.Background(), msg("uic", "prof@uic.edu", "homework", ""))
	assert.Equal(t, ensemble.LabelAction, got.Category)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Empty(t, got.Note)
}

func TestAnalyzeUncertainCarriesMessage(t *testing.T) {
	a := NewAnalyzer(votingCfg(t), "", nil, func(context.Context, Message) (string, error) {
		return "GARBAGE", nil
	})
	got := a.Analyze(context.Background(), msg("uic", "x@y", "odd mail", ""))
	assert.Equal(t, ensemble.LabelUncertain, got.Category)
	assert.Equal(t, "분류가 불확실해서 직접 확인이 필요해요.", got.Note)
}

func TestAnalyzeContradictionShortCircuits(t *testing.T) {
	log := filepath.Join(t.TempDir(), "corrections.jsonl")
	require.NoError(t, os.WriteFile(log, []byte(
		`{"subject":"TA schedule","corrected_label":"ACTION"}`+"\n"+
			`{"subject":"TA schedule","corrected_label":"FYI"}`+"\n"), 0o644))

	var calls int
	a := NewAnalyzer(votingCfg(t), log, nil, func(context.Context, Message) (string, error) {
		calls++
		return ensemble.LabelAction, nil
	})
	got := a.Analyze(context.Background(), msg("uic", "x@y", "TA schedule", ""))
	assert.Equal(t, ensemble.LabelUncertain, got.Category)
	assert.Zero(t, calls, "contradiction must skip the vote entirely")
}

func TestRouteAccountByKeyword(t *testing.T) {
	accounts := []config.MailAccount{
		{Name: "UIC", Keywords: []string{"uic.edu", "professor"}},
		{Name: "Gmail KR", Keywords: []string{"gmail_kr"}},
	}
	a := NewAnalyzer(votingCfg(t), "", accounts, func(context.Context, Message) (string, error) {
		return ensemble.LabelFYI, nil
	})

	got := a.Analyze(context.Background(), msg("outlook", "prof@uic.edu", "seminar", ""))
	assert.Equal(t, "UIC", got.Account)

	got = a.Analyze(context.Background(), msg("gmail_kr", "friend@naver.com", "안부", ""))
	assert.Equal(t, "Gmail KR", got.Account)

	got = a.Analyze(context.Background(), msg("other", "who@where.com", "misc", ""))
	assert.Equal(t, "other", got.Account)
}

type recordingAlerter struct {
	alerts []string
}

func (r *recordingAlerter) SendAlert(_ context.Context, text string) error {
	r.alerts = append(r.alerts, text)
	return nil
}

func TestPollerAlertsOnceAndThrottles(t *testing.T) {
	ctx := context.Background()
	urgent := msg("uic", "prof@uic.edu", "URGENT: defense moved", "")
	svc, _ := newTestService(t, urgent)

	alerter := &recordingAlerter{}
	p := NewPoller(svc, alerter, time.Minute, 30*time.Second, 0)

	require.True(t, p.MaybePoll(ctx))
	require.Len(t, alerter.alerts, 1)
	assert.Contains(t, alerter.alerts[0], "defense moved")

	// Within the minimum gap nothing runs.
	assert.False(t, p.MaybePoll(ctx))

	// Past the gap the poll runs but the mail is already alerted.
	p.lastPoll = time.Now().Add(-time.Minute)
	require.True(t, p.MaybePoll(ctx))
	assert.Len(t, alerter.alerts, 1)
}

func TestPollerJitterBounds(t *testing.T) {
	svc, _ := newTestService(t)
	p := NewPoller(svc, nil, 10*time.Second, time.Second, 2*time.Second)
	for i := 0; i < 50; i++ {
		d := p.nextDelay()
		if d < 8*time.Second || d > 12*time.Second {
			t.Fatalf("delay %v outside jitter bounds", d)
		}
	}
}
