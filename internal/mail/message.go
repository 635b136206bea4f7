// Package mail implements mailbox triage: ingest of unread mail into
// SQLite, rule-based categorization, ensemble-voted ACTION/FYI
// analysis, safe action proposals, and the urgent-mail poller.
package mail

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Message is one normalized mail item.
type Message struct {
	ExtID       string `json:"ext_id"`
	ThreadID    string `json:"thread_id"`
	AccountID   string `json:"account_id"`
	Provider    string `json:"provider"`
	Sender      string `json:"sender"`
	Subject     string `json:"subject"`
	BodyPreview string `json:"body_preview"`
	ReceivedAt  string `json:"received_at"`
	Unread      bool   `json:"is_unread"`
}

// Classification is the triage verdict for one message.
type Classification struct {
	Category   string  `json:"category"` // urgent, action, promo, info
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// DigestRow joins a message with its classification for reporting.
type DigestRow struct {
	ExtID       string  `json:"ext_id"`
	AccountID   string  `json:"account_id"`
	Provider    string  `json:"provider"`
	Sender      string  `json:"sender"`
	Subject     string  `json:"subject"`
	BodyPreview string  `json:"body_preview"`
	ReceivedAt  string  `json:"received_at"`
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}

// Fetcher pulls unread mail from an account source. Implementations
// wrap IMAP, a local mail bridge, or a test stub.
type Fetcher interface {
	FetchUnread(limitPerAccount int) ([]Message, error)
}

const previewLimit = 500

// Normalize fills derived fields on a raw fetched message. Mail
// sources rarely expose a stable message-id, so the ext_id is a hash
// of the fields that survive re-fetching.
func Normalize(m Message, accountKeyword string) Message {
	if m.AccountID == "" {
		m.AccountID = accountID(accountKeyword, m.AccountID)
	}
	if m.Provider == "" {
		m.Provider = providerFromAccount(m.AccountID)
	}
	if preview := []rune(m.BodyPreview); len(preview) > previewLimit {
		m.BodyPreview = string(preview[:previewLimit])
	}
	if m.ReceivedAt == "" {
		m.ReceivedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if m.ExtID == "" {
		seed := fmt.Sprintf("%s|%s|%s|%s|%.160s",
			m.AccountID, m.Sender, m.Subject, m.ReceivedAt, m.BodyPreview)
		sum := sha1.Sum([]byte(seed))
		m.ExtID = hex.EncodeToString(sum[:])
	}
	m.Unread = true
	return m
}

func providerFromAccount(account string) string {
	name := strings.ToLower(account)
	switch {
	case strings.Contains(name, "gmail"):
		return "gmail"
	case strings.Contains(name, "outlook"), strings.Contains(name, "uic"):
		return "outlook"
	default:
		return "mail"
	}
}

func accountID(keyword, name string) string {
	base := name
	if base == "" {
		base = keyword
	}
	if base == "" {
		base = "unknown"
	}
	return strings.ReplaceAll(strings.ToLower(base), " ", "_")
}
