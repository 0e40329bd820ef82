package deliverer

import (
	"context"
	"fmt"
	"strings"

	"github.com/letterdesk/submission-engine/internal/notifier"
)

// EmailDeliverer hands the letter to the mail transport. Acceptance by the
// transport means submitted, not confirmed; a confirmation signal may never
// arrive for this channel.
type EmailDeliverer struct {
	notifier notifier.Notifier
}

func NewEmailDeliverer(n notifier.Notifier) (*EmailDeliverer, error) {
	if n == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	return &EmailDeliverer{notifier: n}, nil
}

func (d *EmailDeliverer) Deliver(ctx context.Context, letter Letter, recipient Recipient) (*Receipt, error) {
	address := strings.TrimSpace(recipient.Address)
	if address == "" {
		return nil, &DeliveryError{
			Message:   fmt.Sprintf("recipient %q has no email address configured", recipient.UniversityID),
			Transient: false,
		}
	}

	subject := strings.TrimSpace(letter.Subject)
	if subject == "" {
		subject = fmt.Sprintf("Recommendation letter for %s", letter.StudentName)
	}

	transportID, err := d.notifier.Send(ctx, address, subject, letter.Body)
	if err != nil {
		// Mail transport hiccups are retryable; the hand-off never happened.
		return nil, &DeliveryError{
			Message:   "mail transport rejected hand-off",
			Transient: true,
			Cause:     err,
		}
	}

	return &Receipt{ExternalReference: transportID}, nil
}
