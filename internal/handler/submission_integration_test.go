package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/letterdesk/submission-engine/internal/deliverer"
	"github.com/letterdesk/submission-engine/internal/domain"
	"github.com/letterdesk/submission-engine/internal/repository"
	"github.com/letterdesk/submission-engine/internal/service"
)

type stubSubmissionService struct {
	createFn         func(ctx context.Context, req service.CreateSubmissionsRequest) ([]domain.Submission, error)
	getByIDFn        func(ctx context.Context, id string) (*domain.Submission, error)
	listFn           func(ctx context.Context, params repository.ListParams) ([]domain.Submission, int64, error)
	retryFn          func(ctx context.Context, id string) (*domain.Submission, error)
	retryAllFailedFn func(ctx context.Context) (int, error)
	setPriorityFn    func(ctx context.Context, id string, priority int) error
	listQueueFn      func(ctx context.Context, page, pageSize int) ([]domain.QueueEntry, int64, error)
}

func (s *stubSubmissionService) Create(ctx context.Context, req service.CreateSubmissionsRequest) ([]domain.Submission, error) {
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return nil, nil
}

func (s *stubSubmissionService) GetByID(ctx context.Context, id string) (*domain.Submission, error) {
	if s.getByIDFn != nil {
		return s.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubSubmissionService) List(ctx context.Context, params repository.ListParams) ([]domain.Submission, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (s *stubSubmissionService) Retry(ctx context.Context, id string) (*domain.Submission, error) {
	if s.retryFn != nil {
		return s.retryFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubSubmissionService) RetryAllFailed(ctx context.Context) (int, error) {
	if s.retryAllFailedFn != nil {
		return s.retryAllFailedFn(ctx)
	}
	return 0, nil
}

func (s *stubSubmissionService) SetPriority(ctx context.Context, id string, priority int) error {
	if s.setPriorityFn != nil {
		return s.setPriorityFn(ctx, id, priority)
	}
	return nil
}

func (s *stubSubmissionService) ListQueue(ctx context.Context, page, pageSize int) ([]domain.QueueEntry, int64, error) {
	if s.listQueueFn != nil {
		return s.listQueueFn(ctx, page, pageSize)
	}
	return nil, 0, nil
}

type stubConfirmer struct {
	confirmFn func(ctx context.Context, req service.ConfirmationRequest) (*domain.Submission, error)
}

func (s *stubConfirmer) Confirm(ctx context.Context, req service.ConfirmationRequest) (*domain.Submission, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, req)
	}
	return nil, domain.ErrNotFound
}

func newSubmissionTestApp(t *testing.T, svc SubmissionService) *fiber.App {
	t.Helper()

	app := fiber.New()
	if err := RegisterSubmissionRoutes(app, svc); err != nil {
		t.Fatalf("RegisterSubmissionRoutes() error = %v", err)
	}
	return app
}

func performRequest(t *testing.T, app *fiber.App, method, path, body string, headers ...map[string]string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, set := range headers {
		for key, value := range set {
			req.Header.Set(key, value)
		}
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body error = %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func TestSubmissionIntegration_CreateSubmissions(t *testing.T) {
	t.Parallel()

	svc := &stubSubmissionService{
		createFn: func(ctx context.Context, req service.CreateSubmissionsRequest) ([]domain.Submission, error) {
			created := make([]domain.Submission, 0, len(req.Targets))
			for i, target := range req.Targets {
				created = append(created, domain.Submission{
					ID:               fmt.Sprintf("s-%d", i+1),
					RecommendationID: req.RecommendationID,
					UniversityID:     target.UniversityID,
					UserID:           req.UserID,
					DeliveryMethod:   target.Method,
					Status:           domain.StatusPending,
					MaxRetries:       3,
					Priority:         domain.DefaultPriority,
				})
			}
			return created, nil
		},
	}

	app := newSubmissionTestApp(t, svc)

	body := `{"recommendationId":"rec-1","userId":"user-1","universities":[{"universityId":"uni-1","method":"api"},{"universityId":"uni-2","method":"email"}]}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/submissions", body)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(respBody))
	}

	var parsed createSubmissionsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Submissions) != 2 {
		t.Fatalf("submissions = %d, want 2", len(parsed.Submissions))
	}
	if parsed.Submissions[0].Status != "pending" {
		t.Fatalf("status = %q, want pending", parsed.Submissions[0].Status)
	}

	invalidMethod := `{"recommendationId":"rec-1","userId":"user-1","universities":[{"universityId":"uni-1","method":"fax"}]}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/submissions", invalidMethod)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid method", resp.StatusCode)
	}
}

func TestSubmissionIntegration_CreateDuplicateIsConflict(t *testing.T) {
	t.Parallel()

	svc := &stubSubmissionService{
		createFn: func(ctx context.Context, req service.CreateSubmissionsRequest) ([]domain.Submission, error) {
			return nil, fmt.Errorf("%w: submission already exists", domain.ErrConflict)
		},
	}

	app := newSubmissionTestApp(t, svc)

	body := `{"recommendationId":"rec-1","userId":"user-1","universities":[{"universityId":"uni-1","method":"api"}]}`
	resp, _ := performRequest(t, app, http.MethodPost, "/v1/submissions", body)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestSubmissionIntegration_GetSubmission(t *testing.T) {
	t.Parallel()

	svc := &stubSubmissionService{
		getByIDFn: func(ctx context.Context, id string) (*domain.Submission, error) {
			if id != "s1" {
				return nil, domain.ErrNotFound
			}
			return &domain.Submission{
				ID:             "s1",
				Status:         domain.StatusSubmitted,
				DeliveryMethod: domain.MethodAPI,
			}, nil
		},
	}

	app := newSubmissionTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/submissions/s1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/submissions/unknown", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSubmissionIntegration_ListValidation(t *testing.T) {
	t.Parallel()

	var gotParams repository.ListParams
	svc := &stubSubmissionService{
		listFn: func(ctx context.Context, params repository.ListParams) ([]domain.Submission, int64, error) {
			gotParams = params
			return nil, 0, nil
		},
	}

	app := newSubmissionTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/submissions?status=failed&method=email&page=2&pageSize=10", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if gotParams.Status == nil || *gotParams.Status != domain.StatusFailed {
		t.Fatalf("status filter = %v, want failed", gotParams.Status)
	}
	if gotParams.DeliveryMethod == nil || *gotParams.DeliveryMethod != domain.MethodEmail {
		t.Fatalf("method filter = %v, want email", gotParams.DeliveryMethod)
	}
	if gotParams.Page != 2 || gotParams.PageSize != 10 {
		t.Fatalf("pagination = %d/%d, want 2/10", gotParams.Page, gotParams.PageSize)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/submissions?pageSize=999", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for oversized pageSize", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/submissions?status=bogus", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid status", resp.StatusCode)
	}
}

func TestSubmissionIntegration_RetryAndRetryFailed(t *testing.T) {
	t.Parallel()

	svc := &stubSubmissionService{
		retryFn: func(ctx context.Context, id string) (*domain.Submission, error) {
			if id == "s-failed" {
				return &domain.Submission{ID: id, Status: domain.StatusPending}, nil
			}
			return nil, fmt.Errorf("%w: only failed submissions can be retried", domain.ErrInvalidTransition)
		},
		retryAllFailedFn: func(ctx context.Context) (int, error) {
			return 4, nil
		},
	}

	app := newSubmissionTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/submissions/s-failed/retry", "")
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/submissions/s-pending/retry", "")
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 for non-failed retry", resp.StatusCode)
	}

	resp, body := performRequest(t, app, http.MethodPost, "/v1/submissions/retry-failed", "")
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["retried"] != float64(4) {
		t.Fatalf("retried = %v, want 4", parsed["retried"])
	}
}

func TestSubmissionIntegration_SetPriority(t *testing.T) {
	t.Parallel()

	svc := &stubSubmissionService{
		setPriorityFn: func(ctx context.Context, id string, priority int) error {
			if priority < domain.MinPriority || priority > domain.MaxPriority {
				return fmt.Errorf("%w: priority out of range", domain.ErrValidation)
			}
			return nil
		},
	}

	app := newSubmissionTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodPatch, "/v1/submissions/s1/priority", `{"priority":9}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPatch, "/v1/submissions/s1/priority", `{"priority":42}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for out-of-range priority", resp.StatusCode)
	}
}

func TestSubmissionIntegration_ListQueue(t *testing.T) {
	t.Parallel()

	svc := &stubSubmissionService{
		listQueueFn: func(ctx context.Context, page, pageSize int) ([]domain.QueueEntry, int64, error) {
			return []domain.QueueEntry{
				{SubmissionID: "s1", Priority: 9, Attempts: 1, MaxAttempts: 3, BackoffMultiplier: 2},
			}, 1, nil
		},
	}

	app := newSubmissionTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/queue", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var parsed listQueueResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 1 || parsed.Data[0].SubmissionID != "s1" {
		t.Fatalf("queue data = %+v", parsed.Data)
	}
}

func TestConfirmationIntegration_WebhookSignature(t *testing.T) {
	t.Parallel()

	secret := "shared-secret"
	confirmer := &stubConfirmer{
		confirmFn: func(ctx context.Context, req service.ConfirmationRequest) (*domain.Submission, error) {
			return &domain.Submission{
				ID:     "s1",
				Status: domain.StatusConfirmed,
			}, nil
		},
	}

	app := fiber.New()
	if err := RegisterConfirmationRoutes(app, confirmer, secret); err != nil {
		t.Fatalf("RegisterConfirmationRoutes() error = %v", err)
	}

	body := `{"externalReference":"ext-s1"}`
	signature := deliverer.Sign([]byte(body), secret)

	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/confirmations", body,
		map[string]string{deliverer.SignatureHeader: signature})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/confirmations", body,
		map[string]string{deliverer.SignatureHeader: "deadbeef"})
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for bad signature", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/confirmations", body)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for missing signature", resp.StatusCode)
	}
}

func TestConfirmationIntegration_AdminConfirm(t *testing.T) {
	t.Parallel()

	var gotForce bool
	confirmer := &stubConfirmer{
		confirmFn: func(ctx context.Context, req service.ConfirmationRequest) (*domain.Submission, error) {
			gotForce = req.Force
			if req.SubmissionID == "s-pending" && !req.Force {
				return nil, fmt.Errorf("%w: cannot confirm pending", domain.ErrInvalidTransition)
			}
			return &domain.Submission{ID: req.SubmissionID, Status: domain.StatusConfirmed}, nil
		},
	}

	app := fiber.New()
	if err := RegisterConfirmationRoutes(app, confirmer, ""); err != nil {
		t.Fatalf("RegisterConfirmationRoutes() error = %v", err)
	}

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/submissions/s1/confirm", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/submissions/s-pending/confirm", "")
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/submissions/s-pending/confirm", `{"force":true}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 for forced confirm", resp.StatusCode)
	}
	if !gotForce {
		t.Fatal("force flag was not forwarded")
	}
}

type stubScheduler struct {
	running bool
}

func (s *stubScheduler) Start() error                   { s.running = true; return nil }
func (s *stubScheduler) Stop(ctx context.Context) error { s.running = false; return nil }
func (s *stubScheduler) Running() bool                  { return s.running }

func TestSchedulerIntegration_Lifecycle(t *testing.T) {
	t.Parallel()

	scheduler := &stubScheduler{}
	app := fiber.New()
	if err := RegisterSchedulerRoutes(app, scheduler); err != nil {
		t.Fatalf("RegisterSchedulerRoutes() error = %v", err)
	}

	resp, body := performRequest(t, app, http.MethodGet, "/v1/scheduler", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["running"] != false {
		t.Fatalf("running = %v, want false", parsed["running"])
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/scheduler/start", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}
	if !scheduler.Running() {
		t.Fatal("scheduler should be running after start")
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/scheduler/stop", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("stop status = %d, want 200", resp.StatusCode)
	}
	if scheduler.Running() {
		t.Fatal("scheduler should be stopped after stop")
	}
}
