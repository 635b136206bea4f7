package mail

import (
	"context"
	"strings"

	"polaris/internal/config"
	"polaris/internal/ensemble"
)

// InferFunc is one model inference classifying a mail as ACTION or
// FYI. It is fanned out by the ensemble voter, so it must tolerate
// concurrent calls.
type InferFunc func(ctx context.Context, m Message) (string, error)

// Analysis is the voted verdict for one mail.
type Analysis struct {
	Subject    string   `json:"subject"`
	Sender     string   `json:"sender"`
	Account    string   `json:"account"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Votes      []string `json:"votes"`
	Note       string   `json:"note,omitempty"`
}

// Analyzer classifies mail into ACTION/FYI via ensemble voting, with
// a contradiction check against the corrections history and keyword
// routing back to the owning account.
type Analyzer struct {
	voter          *ensemble.Voter
	contradictions *ensemble.Contradictions
	infer          InferFunc
	accounts       []config.MailAccount
	uncertainMsg   string
}

// NewAnalyzer wires the voter over the given inference function.
func NewAnalyzer(voting config.VotingConfig, correctionsLog string, accounts []config.MailAccount, infer InferFunc) *Analyzer {
	return &Analyzer{
		voter:          ensemble.NewVoter(voting),
		contradictions: ensemble.NewContradictions(correctionsLog),
		infer:          infer,
		accounts:       accounts,
		uncertainMsg:   voting.UncertainMsg,
	}
}

// Analyze runs one mail through the contradiction check and the
// ensemble vote.
func (a *Analyzer) Analyze(ctx context.Context, m Message) Analysis {
	out := Analysis{
		Subject: m.Subject,
		Sender:  m.Sender,
		Account: a.routeAccount(m),
	}

	if reason, found := a.contradictions.Check(m.Subject); found {
		out.Category = ensemble.LabelUncertain
		out.Note = reason
		return out
	}

	res := a.voter.VoteClassify(ctx, m.Subject, func(ctx context.Context) (string, error) {
		return a.infer(ctx, m)
	})
	out.Category = res.Category
	out.Confidence = res.Confidence
	out.Votes = res.Votes
	if res.Category == ensemble.LabelUncertain {
		out.Note = a.uncertainMsg
	}
	return out
}

// AnalyzeBatch analyzes each mail in order.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, mails []Message) []Analysis {
	out := make([]Analysis, 0, len(mails))
	for _, m := range mails {
		out = append(out, a.Analyze(ctx, m))
	}
	return out
}

// routeAccount matches sender and account fields against the
// configured per-account keywords. First match wins; no match keeps
// the message's own account id.
func (a *Analyzer) routeAccount(m Message) string {
	haystack := strings.ToLower(m.AccountID + " " + m.Sender + " " + m.Subject)
	for _, acct := range a.accounts {
		for _, kw := range acct.Keywords {
			if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
				return acct.Name
			}
		}
	}
	return m.AccountID
}
