package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/letterdesk/submission-engine/internal/deliverer"
	"github.com/letterdesk/submission-engine/internal/domain"
	"github.com/letterdesk/submission-engine/internal/service"
)

type Confirmer interface {
	Confirm(ctx context.Context, req service.ConfirmationRequest) (*domain.Submission, error)
}

type ConfirmationHandler struct {
	confirmer Confirmer
	// webhookSecret verifies inbound webhook signatures. Empty disables
	// verification (local development only).
	webhookSecret string
}

func NewConfirmationHandler(confirmer Confirmer, webhookSecret string) (*ConfirmationHandler, error) {
	if confirmer == nil {
		return nil, fmt.Errorf("confirmation service is required")
	}
	return &ConfirmationHandler{
		confirmer:     confirmer,
		webhookSecret: strings.TrimSpace(webhookSecret),
	}, nil
}

func RegisterConfirmationRoutes(router fiber.Router, confirmer Confirmer, webhookSecret string) error {
	h, err := NewConfirmationHandler(confirmer, webhookSecret)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/confirmations", h.ReceiveWebhook)
	v1.Post("/submissions/:id/confirm", h.ConfirmSubmission)

	return nil
}

type webhookConfirmationRequest struct {
	SubmissionID      string     `json:"submissionId"`
	ExternalReference string     `json:"externalReference"`
	ConfirmedAt       *time.Time `json:"confirmedAt,omitempty"`
}

type adminConfirmationRequest struct {
	Force       bool       `json:"force"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
}

// ReceiveWebhook handles confirmation callbacks from recipient universities.
// The raw body must carry a valid HMAC signature when a secret is configured.
func (h *ConfirmationHandler) ReceiveWebhook(c *fiber.Ctx) error {
	if h.webhookSecret != "" {
		signature := c.Get(deliverer.SignatureHeader)
		if !deliverer.VerifySignature(c.Body(), h.webhookSecret, signature) {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid webhook signature")
		}
	}

	var req webhookConfirmationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.confirmer.Confirm(c.Context(), service.ConfirmationRequest{
		SubmissionID:      strings.TrimSpace(req.SubmissionID),
		ExternalReference: strings.TrimSpace(req.ExternalReference),
		ConfirmedAt:       req.ConfirmedAt,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toSubmissionResponse(submission))
}

// ConfirmSubmission is the administrative confirmation action, optionally
// forcing submissions that never reached submitted state.
func (h *ConfirmationHandler) ConfirmSubmission(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var req adminConfirmationRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	submission, err := h.confirmer.Confirm(c.Context(), service.ConfirmationRequest{
		SubmissionID: id,
		ConfirmedAt:  req.ConfirmedAt,
		Force:        req.Force,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toSubmissionResponse(submission))
}
