package mail

import (
	"context"
	"fmt"

	"polaris/internal/logging"
)

// SyncResult summarizes one ingest pass.
type SyncResult struct {
	Fetched   int `json:"fetched"`
	Inserted  int `json:"inserted"`
	UrgentNew int `json:"urgent_new"`
}

// ActionProposal is one suggested mailbox operation. Proposals never
// mutate anything; execution goes through ExecuteActions.
type ActionProposal struct {
	ExtID          string `json:"ext_id"`
	Subject        string `json:"subject"`
	Sender         string `json:"sender"`
	Category       string `json:"category"`
	ProposedAction string `json:"proposed_action"`
	Detail         string `json:"detail"`
}

// ActionResult reports what ExecuteActions did.
type ActionResult struct {
	Status  string `json:"status"`
	Action  string `json:"action"`
	Count   int    `json:"count"`
	Message string `json:"message"`
}

// safeActions are the only mailbox writes the service will queue.
// Deletion is deliberately unsupported.
var safeActions = map[string]bool{
	"archive":   true,
	"label":     true,
	"mark_read": true,
}

// Service ties together ingest, triage, and the action log.
type Service struct {
	store      *Store
	classifier Classifier
	fetcher    Fetcher
}

// NewService creates the triage service. The fetcher may be nil, in
// which case SyncUnread is a no-op.
func NewService(store *Store, fetcher Fetcher) *Service {
	return &Service{store: store, fetcher: fetcher}
}

// SyncUnread pulls unread mail, stores new messages, and classifies
// every fetched message (re-classifying known ones keeps verdicts
// fresh when rules change).
func (s *Service) SyncUnread(ctx context.Context, limitPerAccount int) (SyncResult, error) {
	log := logging.Get(logging.CategoryMail)
	var res SyncResult

	if s.fetcher == nil {
		return res, nil
	}
	messages, err := s.fetcher.FetchUnread(limitPerAccount)
	if err != nil {
		return res, fmt.Errorf("fetch unread: %w", err)
	}
	res.Fetched = len(messages)

	for _, m := range messages {
		inserted, err := s.store.UpsertMessage(ctx, m)
		if err != nil {
			log.Warnf("upsert %s failed: %v", m.ExtID, err)
			continue
		}
		if inserted {
			res.Inserted++
		}
		verdict := s.classifier.Classify(m)
		if err := s.store.SaveClassification(ctx, m.ExtID, verdict); err != nil {
			log.Warnf("classify %s failed: %v", m.ExtID, err)
			continue
		}
		if inserted && verdict.Category == "urgent" {
			res.UrgentNew++
		}
	}
	return res, nil
}

// Digest returns the newest messages with verdicts.
func (s *Service) Digest(ctx context.Context, limit int) ([]DigestRow, error) {
	return s.store.Digest(ctx, "", "", limit)
}

// Urgent returns the newest urgent messages.
func (s *Service) Urgent(ctx context.Context, limit int) ([]DigestRow, error) {
	return s.store.Digest(ctx, "urgent", "", limit)
}

// Promo returns the newest promotional messages.
func (s *Service) Promo(ctx context.Context, limit int) ([]DigestRow, error) {
	return s.store.Digest(ctx, "promo", "", limit)
}

// UnalertedUrgent lists urgent mail that has not been pushed yet.
func (s *Service) UnalertedUrgent(ctx context.Context, limit int) ([]DigestRow, error) {
	return s.store.UnalertedUrgent(ctx, limit)
}

// MarkUrgentAlerted records an urgent alert as sent.
func (s *Service) MarkUrgentAlerted(ctx context.Context, extID string) error {
	return s.store.MarkAlerted(ctx, extID, "urgent")
}

// ProposeActions suggests safe operations for a target category
// without touching the mailbox.
func (s *Service) ProposeActions(ctx context.Context, target string, limit int) ([]ActionProposal, error) {
	var (
		rows   []DigestRow
		err    error
		action string
		detail string
	)
	switch target {
	case "urgent":
		rows, err = s.Urgent(ctx, limit)
		action, detail = "label", "label=urgent_followup"
	case "promo":
		rows, err = s.Promo(ctx, limit)
		action, detail = "archive", "archive promotional messages"
	default:
		rows, err = s.Digest(ctx, limit)
		action, detail = "mark_read", "mark informational messages as read"
	}
	if err != nil {
		return nil, err
	}

	out := make([]ActionProposal, 0, len(rows))
	for _, r := range rows {
		category := r.Category
		if category == "" {
			category = "info"
		}
		out = append(out, ActionProposal{
			ExtID:          r.ExtID,
			Subject:        r.Subject,
			Sender:         r.Sender,
			Category:       category,
			ProposedAction: action,
			Detail:         detail,
		})
	}
	return out, nil
}

// ExecuteActions queues safe actions in the log. Anything outside the
// whitelist is rejected and logged as such.
func (s *Service) ExecuteActions(ctx context.Context, action string, messageIDs []string, label string) (ActionResult, error) {
	if !safeActions[action] {
		_ = s.store.LogAction(ctx, "", action, "rejected", "action not allowed")
		return ActionResult{Status: "error", Action: action, Message: "action not allowed"}, nil
	}

	for _, extID := range messageIDs {
		detail := "queued_manual"
		if action == "label" {
			detail = label
		}
		if err := s.store.LogAction(ctx, extID, action, "queued", detail); err != nil {
			return ActionResult{}, fmt.Errorf("log action: %w", err)
		}
	}
	return ActionResult{
		Status:  "ok",
		Action:  action,
		Count:   len(messageIDs),
		Message: "actions queued for the next mailbox write pass",
	}, nil
}
