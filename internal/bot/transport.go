// Package bot is the chat surface: a transport-agnostic command
// dispatcher over the router plus a thin outbound transport adapter.
// The concrete chat client (Telegram, console) only has to supply two
// send functions and feed inbound text/callbacks to the dispatcher.
package bot

import "context"

// SendFunc delivers a plain message to the user.
type SendFunc func(ctx context.Context, text string) error

// ApprovalSendFunc delivers an approval prompt whose approve/deny
// buttons carry "approve:<id>" / "deny:<id>" payloads.
type ApprovalSendFunc func(ctx context.Context, text, callbackID string) error

// Transport adapts the two send functions to the interfaces the
// approval gate and the mail poller expect.
type Transport struct {
	send         SendFunc
	sendApproval ApprovalSendFunc
}

// NewTransport wraps the send functions. A nil sendApproval downgrades
// approval requests to plain messages with the callback id inlined.
func NewTransport(send SendFunc, sendApproval ApprovalSendFunc) *Transport {
	return &Transport{send: send, sendApproval: sendApproval}
}

// SendMessage delivers a plain message.
func (t *Transport) SendMessage(ctx context.Context, text string) error {
	return t.send(ctx, text)
}

// SendApprovalRequest delivers an approval prompt.
func (t *Transport) SendApprovalRequest(ctx context.Context, text, callbackID string) error {
	if t.sendApproval != nil {
		return t.sendApproval(ctx, text, callbackID)
	}
	return t.send(ctx, text+"\n(approve:"+callbackID+" / deny:"+callbackID+")")
}

// SendAlert delivers an urgent-mail alert.
func (t *Transport) SendAlert(ctx context.Context, text string) error {
	return t.send(ctx, text)
}
