package notifier

import "context"

// Notifier hands a rendered message to the outbound mail transport.
// The returned transport id identifies the hand-off; acceptance by the
// transport does not imply the recipient confirmed anything.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) (string, error)
}
