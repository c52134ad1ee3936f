package transport

import "context"

// SendRequest is one outbound message.
type SendRequest struct {
	// ChannelID is the provider-specific destination. For Telegram this is a
	// chat id ("-1001234"), a public username ("@team") or "chat:thread" for
	// a forum topic.
	ChannelID string
	Text      string
	// RichText enables provider markup (Telegram HTML parse mode).
	RichText       bool
	DisablePreview bool
}

// SendResult mirrors the provider's {ok, description} response.
//
// A provider-side rejection is reported as OK=false with the provider's
// reason in Description and a nil error. A non-nil error from Send means the
// provider could not be reached at all.
type SendResult struct {
	OK          bool
	Description string
	MessageID   int
}

// Messenger delivers messages through an external messaging API.
// One call per message; there is no batching primitive.
type Messenger interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// MessengerFunc adapts a function to Messenger.
type MessengerFunc func(ctx context.Context, req SendRequest) (SendResult, error)

func (f MessengerFunc) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	return f(ctx, req)
}
