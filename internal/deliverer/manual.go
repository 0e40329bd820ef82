package deliverer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ManualDeliverer marks the submission handed off with no transport call.
// An operator delivers the letter out-of-band and confirmation arrives later
// through an administrative action.
type ManualDeliverer struct{}

func NewManualDeliverer() *ManualDeliverer {
	return &ManualDeliverer{}
}

func (d *ManualDeliverer) Deliver(ctx context.Context, letter Letter, recipient Recipient) (*Receipt, error) {
	return &Receipt{
		ExternalReference: fmt.Sprintf("manual-%s", uuid.NewString()),
	}, nil
}
