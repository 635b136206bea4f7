package mail

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	messages []Message
}

func (f *stubFetcher) FetchUnread(limit int) ([]Message, error) {
	return f.messages, nil
}

func newTestService(t *testing.T, msgs ...Message) (*Service, *Store) {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "mail.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(store, &stubFetcher{messages: msgs}), store
}

func msg(account, sender, subject, body string) Message {
	return Normalize(Message{
		AccountID:   account,
		Sender:      sender,
		Subject:     subject,
		BodyPreview: body,
		ReceivedAt:  time.Now().UTC().Format(time.RFC3339),
	}, account)
}

func TestNormalizeStableExtID(t *testing.T) {
	a := Normalize(Message{Sender: "x@y", Subject: "hi", ReceivedAt: "2026-01-01"}, "gmail_kr")
	b := Normalize(Message{Sender: "x@y", Subject: "hi", ReceivedAt: "2026-01-01"}, "gmail_kr")
	if a.ExtID == "" || a.ExtID != b.ExtID {
		t.Errorf("ext_id not stable: %q vs %q", a.ExtID, b.ExtID)
	}
	c := Normalize(Message{Sender: "x@y", Subject: "different", ReceivedAt: "2026-01-01"}, "gmail_kr")
	if c.ExtID == a.ExtID {
		t.Error("different subject must change ext_id")
	}
}

func TestNormalizeProviderAndPreview(t *testing.T) {
	m := Normalize(Message{Sender: "a@b", Subject: "s",
		BodyPreview: strings.Repeat("x", 900)}, "Gmail KR")
	assert.Equal(t, "gmail_kr", m.AccountID)
	assert.Equal(t, "gmail", m.Provider)
	assert.Len(t, m.BodyPreview, previewLimit)

	m = Normalize(Message{Sender: "a@b", Subject: "s"}, "UIC Outlook")
	assert.Equal(t, "outlook", m.Provider)
}

func TestClassifierTiers(t *testing.T) {
	c := Classifier{}
	tests := []struct {
		m    Message
		want string
	}{
		{msg("uic", "prof@uic.edu", "URGENT: grade submission deadline", ""), "urgent"},
		{msg("gmail", "noreply@shop.com", "주말 특가", "할인 쿠폰"), "promo"},
		{msg("uic", "ta@uic.edu", "Please review the homework rubric", ""), "action"},
		{msg("gmail", "friend@x.com", "photos from the trip", "had fun"), "info"},
		{msg("gmail", "prof@x.com", "긴급: 미팅 시간 변경", ""), "urgent"},
	}
	for _, tt := range tests {
		got := c.Classify(tt.m)
		if got.Category != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.m.Subject, got.Category, tt.want)
		}
	}
}

func TestSyncUnreadCountsAndDedupes(t *testing.T) {
	ctx := context.Background()
	urgent := msg("uic", "prof@uic.edu", "URGENT: exam moved", "")
	promo := msg("gmail", "deals@shop.com", "big sale", "")
	svc, _ := newTestService(t, urgent, promo)

	res, err := svc.SyncUnread(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.UrgentNew)

	// Second sync sees the same mail: nothing new.
	res, err = svc.SyncUnread(ctx, 20)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Zero(t, res.UrgentNew)

	rows, err := svc.Urgent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, urgent.ExtID, rows[0].ExtID)

	rows, err = svc.Promo(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "promo", rows[0].Category)
}

func TestUnalertedUrgentLifecycle(t *testing.T) {
	ctx := context.Background()
	urgent := msg("uic", "prof@uic.edu", "deadline today", "")
	svc, _ := newTestService(t, urgent)
	_, err := svc.SyncUnread(ctx, 20)
	require.NoError(t, err)

	rows, err := svc.UnalertedUrgent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, svc.MarkUrgentAlerted(ctx, urgent.ExtID))
	rows, err = svc.UnalertedUrgent(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Marking twice is harmless.
	require.NoError(t, svc.MarkUrgentAlerted(ctx, urgent.ExtID))
}

func TestProposeActionsByTarget(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t,
		msg("gmail", "noreply@shop.com", "sale sale sale", ""),
		msg("uic", "prof@uic.edu", "긴급 확인", ""))
	_, err := svc.SyncUnread(ctx, 20)
	require.NoError(t, err)

	promo, err := svc.ProposeActions(ctx, "promo", 10)
	require.NoError(t, err)
	require.Len(t, promo, 1)
	assert.Equal(t, "archive", promo[0].ProposedAction)

	urgent, err := svc.ProposeActions(ctx, "urgent", 10)
	require.NoError(t, err)
	require.Len(t, urgent, 1)
	assert.Equal(t, "label", urgent[0].ProposedAction)

	all, err := svc.ProposeActions(ctx, "all", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestExecuteActionsWhitelist(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	res, err := svc.ExecuteActions(ctx, "archive", []string{"a", "b"}, "")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, 2, res.Count)

	queued, err := store.ActionCount(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	// Deletion is never queued.
	res, err = svc.ExecuteActions(ctx, "delete", []string{"a"}, "")
	require.NoError(t, err)
	assert.Equal(t, "error", res.Status)

	rejected, err := store.ActionCount(ctx, "rejected")
	require.NoError(t, err)
	assert.Equal(t, 1, rejected)
}
