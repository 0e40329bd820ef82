package deliverer

import (
	"context"
	"fmt"

	"github.com/letterdesk/submission-engine/internal/domain"
)

// Letter is the finalized recommendation content handed off to a recipient.
type Letter struct {
	RecommendationID string
	StudentName      string
	RecommenderName  string
	Subject          string
	Body             string
}

// Recipient is the per-university delivery configuration, read-only.
type Recipient struct {
	UniversityID string
	Name         string
	Method       domain.DeliveryMethod
	// Endpoint is the programmatic intake URL for the api method.
	Endpoint string
	// Address is the admissions mailbox for the email method.
	Address string
	// SigningSecret signs api payloads for the recipient.
	SigningSecret string
}

// LetterSource supplies finalized letter content (external collaborator).
type LetterSource interface {
	Letter(ctx context.Context, recommendationID string) (*Letter, error)
}

// RecipientDirectory supplies per-university delivery configuration
// (external collaborator).
type RecipientDirectory interface {
	Recipient(ctx context.Context, universityID string) (*Recipient, error)
}

// Receipt stores transport hand-off metadata for persistence.
type Receipt struct {
	ExternalReference string
	StatusCode        int
	Detail            string
}

// Deliverer executes one delivery attempt for a single transport method.
type Deliverer interface {
	Deliver(ctx context.Context, letter Letter, recipient Recipient) (*Receipt, error)
}

// Dispatcher routes a submission to the method-specific Deliverer.
type Dispatcher struct {
	letters    LetterSource
	recipients RecipientDirectory
	byMethod   map[domain.DeliveryMethod]Deliverer
}

func NewDispatcher(letters LetterSource, recipients RecipientDirectory, byMethod map[domain.DeliveryMethod]Deliverer) (*Dispatcher, error) {
	if letters == nil {
		return nil, fmt.Errorf("letter source is required")
	}
	if recipients == nil {
		return nil, fmt.Errorf("recipient directory is required")
	}
	if len(byMethod) == 0 {
		return nil, fmt.Errorf("at least one deliverer is required")
	}

	return &Dispatcher{
		letters:    letters,
		recipients: recipients,
		byMethod:   byMethod,
	}, nil
}

// Dispatch performs one delivery attempt for the submission. Collaborator
// lookup failures are transient: the letter store or recipient config being
// briefly unavailable must not burn the submission.
func (d *Dispatcher) Dispatch(ctx context.Context, submission domain.Submission) (*Receipt, error) {
	deliverer, ok := d.byMethod[submission.DeliveryMethod]
	if !ok {
		return nil, &DeliveryError{
			Message:   fmt.Sprintf("no deliverer registered for method %q", submission.DeliveryMethod),
			Transient: false,
		}
	}

	letter, err := d.letters.Letter(ctx, submission.RecommendationID)
	if err != nil {
		return nil, &DeliveryError{
			Message:   "failed to load letter content",
			Transient: true,
			Cause:     err,
		}
	}

	recipient, err := d.recipients.Recipient(ctx, submission.UniversityID)
	if err != nil {
		return nil, &DeliveryError{
			Message:   "failed to load recipient config",
			Transient: true,
			Cause:     err,
		}
	}

	return deliverer.Deliver(ctx, *letter, *recipient)
}
