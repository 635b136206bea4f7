package mail

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"polaris/internal/logging"
)

// Alerter pushes an urgent-mail notification out of band. The chat
// transport implements this.
type Alerter interface {
	SendAlert(ctx context.Context, text string) error
}

// Poller periodically syncs unread mail and pushes alerts for urgent
// messages that have not been announced yet. A minimum interval
// throttles bursts and a random jitter desynchronizes the poll from
// any server-side rate window.
type Poller struct {
	service  *Service
	alerter  Alerter
	interval time.Duration
	minGap   time.Duration
	jitter   time.Duration

	lastPoll time.Time
}

// NewPoller creates a poller. interval is the base period, minGap the
// floor between two polls, jitter the maximum random offset.
func NewPoller(service *Service, alerter Alerter, interval, minGap, jitter time.Duration) *Poller {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Poller{
		service:  service,
		alerter:  alerter,
		interval: interval,
		minGap:   minGap,
		jitter:   jitter,
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	log := logging.Get(logging.CategoryMail)
	timer := time.NewTimer(p.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if p.MaybePoll(ctx) {
				log.Debugf("mail poll completed")
			}
			timer.Reset(p.nextDelay())
		}
	}
}

// MaybePoll runs one poll if the minimum gap has elapsed. Reports
// whether a poll actually ran.
func (p *Poller) MaybePoll(ctx context.Context) bool {
	now := time.Now()
	if !p.lastPoll.IsZero() && now.Sub(p.lastPoll) < p.minGap {
		return false
	}
	p.lastPoll = now
	p.pollAndAlert(ctx)
	return true
}

func (p *Poller) pollAndAlert(ctx context.Context) {
	log := logging.Get(logging.CategoryMail)

	if _, err := p.service.SyncUnread(ctx, 20); err != nil {
		log.Warnf("mail poll sync failed: %v", err)
		return
	}
	urgent, err := p.service.UnalertedUrgent(ctx, 5)
	if err != nil {
		log.Warnf("urgent query failed: %v", err)
		return
	}
	if len(urgent) == 0 || p.alerter == nil {
		return
	}

	var b strings.Builder
	b.WriteString("🚨 긴급 메일 알림\n")
	for _, row := range urgent {
		fmt.Fprintf(&b, "- %s / %s\n", row.Subject, row.Sender)
	}
	if err := p.alerter.SendAlert(ctx, b.String()); err != nil {
		log.Warnf("urgent alert failed: %v", err)
		return
	}
	for _, row := range urgent {
		if err := p.service.MarkUrgentAlerted(ctx, row.ExtID); err != nil {
			log.Warnf("mark alerted %s failed: %v", row.ExtID, err)
		}
	}
}

// nextDelay is the base interval plus uniform jitter in [-j, +j],
// never below the minimum gap.
func (p *Poller) nextDelay() time.Duration {
	d := p.interval
	if p.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(2*p.jitter))) - p.jitter
	}
	if d < p.minGap {
		d = p.minGap
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
