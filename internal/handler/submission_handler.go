package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/letterdesk/submission-engine/internal/domain"
	"github.com/letterdesk/submission-engine/internal/repository"
	"github.com/letterdesk/submission-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type SubmissionService interface {
	Create(ctx context.Context, req service.CreateSubmissionsRequest) ([]domain.Submission, error)
	GetByID(ctx context.Context, id string) (*domain.Submission, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Submission, int64, error)
	Retry(ctx context.Context, id string) (*domain.Submission, error)
	RetryAllFailed(ctx context.Context) (int, error)
	SetPriority(ctx context.Context, id string, priority int) error
	ListQueue(ctx context.Context, page, pageSize int) ([]domain.QueueEntry, int64, error)
}

type SubmissionHandler struct {
	service SubmissionService
}

func NewSubmissionHandler(service SubmissionService) (*SubmissionHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("submission service is required")
	}
	return &SubmissionHandler{service: service}, nil
}

func RegisterSubmissionRoutes(router fiber.Router, service SubmissionService) error {
	h, err := NewSubmissionHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/submissions", h.CreateSubmissions)
	v1.Get("/submissions", h.ListSubmissions)
	v1.Get("/submissions/:id", h.GetSubmission)
	v1.Post("/submissions/retry-failed", h.RetryAllFailed)
	v1.Post("/submissions/:id/retry", h.RetrySubmission)
	v1.Patch("/submissions/:id/priority", h.SetPriority)
	v1.Get("/queue", h.ListQueue)

	return nil
}

type universityTargetRequest struct {
	UniversityID string `json:"universityId"`
	Method       string `json:"method"`
	Priority     *int   `json:"priority,omitempty"`
	MaxRetries   *int   `json:"maxRetries,omitempty"`
}

type createSubmissionsRequest struct {
	RecommendationID string                    `json:"recommendationId"`
	UserID           string                    `json:"userId"`
	Universities     []universityTargetRequest `json:"universities"`
}

type submissionResponse struct {
	ID                string     `json:"id"`
	RecommendationID  string     `json:"recommendationId"`
	UniversityID      string     `json:"universityId"`
	UserID            string     `json:"userId"`
	DeliveryMethod    string     `json:"deliveryMethod"`
	Status            string     `json:"status"`
	ExternalReference *string    `json:"externalReference,omitempty"`
	ErrorMessage      *string    `json:"errorMessage,omitempty"`
	RetryCount        int        `json:"retryCount"`
	MaxRetries        int        `json:"maxRetries"`
	Priority          int        `json:"priority"`
	SubmittedAt       *time.Time `json:"submittedAt,omitempty"`
	ConfirmedAt       *time.Time `json:"confirmedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type createSubmissionsResponse struct {
	Submissions []submissionResponse `json:"submissions"`
}

type listSubmissionsResponse struct {
	Data []submissionResponse `json:"data"`
	Meta listMeta             `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type queueEntryResponse struct {
	SubmissionID      string    `json:"submissionId"`
	Priority          int       `json:"priority"`
	ScheduledAt       time.Time `json:"scheduledAt"`
	Attempts          int       `json:"attempts"`
	MaxAttempts       int       `json:"maxAttempts"`
	BackoffMultiplier float64   `json:"backoffMultiplier"`
	Claimed           bool      `json:"claimed"`
}

type listQueueResponse struct {
	Data []queueEntryResponse `json:"data"`
	Meta listMeta             `json:"meta"`
}

type setPriorityRequest struct {
	Priority int `json:"priority"`
}

func (h *SubmissionHandler) CreateSubmissions(c *fiber.Ctx) error {
	var req createSubmissionsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	targets := make([]service.UniversityTarget, 0, len(req.Universities))
	for _, item := range req.Universities {
		method, err := domain.ParseDeliveryMethodFromString(item.Method)
		if err != nil {
			return toHTTPError(err)
		}
		target := service.UniversityTarget{
			UniversityID: strings.TrimSpace(item.UniversityID),
			Method:       method,
		}
		if item.Priority != nil {
			target.Priority = *item.Priority
		}
		if item.MaxRetries != nil {
			target.MaxRetries = *item.MaxRetries
		}
		targets = append(targets, target)
	}

	created, err := h.service.Create(c.Context(), service.CreateSubmissionsRequest{
		RecommendationID: strings.TrimSpace(req.RecommendationID),
		UserID:           strings.TrimSpace(req.UserID),
		Targets:          targets,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(createSubmissionsResponse{
		Submissions: toSubmissionResponses(created),
	})
}

func (h *SubmissionHandler) GetSubmission(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	submission, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toSubmissionResponse(submission))
}

func (h *SubmissionHandler) ListSubmissions(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	submissions, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listSubmissionsResponse{
		Data: toSubmissionResponses(submissions),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *SubmissionHandler) RetrySubmission(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	submission, err := h.service.Retry(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toSubmissionResponse(submission))
}

func (h *SubmissionHandler) RetryAllFailed(c *fiber.Ctx) error {
	retried, err := h.service.RetryAllFailed(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"retried": retried,
	})
}

func (h *SubmissionHandler) SetPriority(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var req setPriorityRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.SetPriority(c.Context(), id, req.Priority); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"submissionId": id,
		"priority":     req.Priority,
	})
}

func (h *SubmissionHandler) ListQueue(c *fiber.Ctx) error {
	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pageSize", defaultPageSize)
	if page < 1 {
		return toHTTPError(fmt.Errorf("%w: page must be >= 1", domain.ErrValidation))
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return toHTTPError(fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize))
	}

	entries, total, err := h.service.ListQueue(c.Context(), page, pageSize)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]queueEntryResponse, 0, len(entries))
	for _, entry := range entries {
		data = append(data, queueEntryResponse{
			SubmissionID:      entry.SubmissionID,
			Priority:          entry.Priority,
			ScheduledAt:       entry.ScheduledAt,
			Attempts:          entry.Attempts,
			MaxAttempts:       entry.MaxAttempts,
			BackoffMultiplier: entry.BackoffMultiplier,
			Claimed:           entry.Claimed,
		})
	}

	return c.Status(fiber.StatusOK).JSON(listQueueResponse{
		Data: data,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawMethod := strings.TrimSpace(c.Query("method")); rawMethod != "" {
		method, err := domain.ParseDeliveryMethodFromString(rawMethod)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.DeliveryMethod = &method
	}

	if rawRecommendation := strings.TrimSpace(c.Query("recommendationId")); rawRecommendation != "" {
		params.RecommendationID = &rawRecommendation
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toSubmissionResponses(submissions []domain.Submission) []submissionResponse {
	responses := make([]submissionResponse, 0, len(submissions))
	for i := range submissions {
		responses = append(responses, toSubmissionResponse(&submissions[i]))
	}
	return responses
}

func toSubmissionResponse(s *domain.Submission) submissionResponse {
	if s == nil {
		return submissionResponse{}
	}

	return submissionResponse{
		ID:                s.ID,
		RecommendationID:  s.RecommendationID,
		UniversityID:      s.UniversityID,
		UserID:            s.UserID,
		DeliveryMethod:    s.DeliveryMethod.String(),
		Status:            s.Status.String(),
		ExternalReference: s.ExternalReference,
		ErrorMessage:      s.ErrorMessage,
		RetryCount:        s.RetryCount,
		MaxRetries:        s.MaxRetries,
		Priority:          s.Priority,
		SubmittedAt:       s.SubmittedAt,
		ConfirmedAt:       s.ConfirmedAt,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrAlreadyQueued):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	default:
		return err
	}
}
