package deliverer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/letterdesk/submission-engine/internal/domain"
)

const defaultClientTimeout = 5 * time.Second

// HTTPLetterSource fetches finalized letter content from the letter store
// service.
type HTTPLetterSource struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPLetterSource(baseURL string) (*HTTPLetterSource, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("letter store url is required")
	}

	client := resty.New()
	client.SetTimeout(defaultClientTimeout)
	client.SetRetryCount(0)

	return &HTTPLetterSource{client: client, baseURL: baseURL}, nil
}

type letterPayload struct {
	RecommendationID string `json:"recommendationId"`
	StudentName      string `json:"studentName"`
	RecommenderName  string `json:"recommenderName"`
	Subject          string `json:"subject"`
	Body             string `json:"body"`
	Finalized        bool   `json:"finalized"`
}

func (s *HTTPLetterSource) Letter(ctx context.Context, recommendationID string) (*Letter, error) {
	recommendationID = strings.TrimSpace(recommendationID)
	if recommendationID == "" {
		return nil, fmt.Errorf("recommendation id is required")
	}

	var payload letterPayload
	response, err := s.client.R().
		SetContext(ctx).
		SetResult(&payload).
		Get(s.baseURL + "/v1/letters/" + url.PathEscape(recommendationID))
	if err != nil {
		return nil, fmt.Errorf("letter store request failed: %w", err)
	}
	if response.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("letter store returned status %d for recommendation %q", response.StatusCode(), recommendationID)
	}
	if !payload.Finalized {
		return nil, fmt.Errorf("letter for recommendation %q is not finalized", recommendationID)
	}

	return &Letter{
		RecommendationID: payload.RecommendationID,
		StudentName:      payload.StudentName,
		RecommenderName:  payload.RecommenderName,
		Subject:          payload.Subject,
		Body:             payload.Body,
	}, nil
}

// HTTPRecipientDirectory fetches per-university delivery configuration from
// the directory service.
type HTTPRecipientDirectory struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPRecipientDirectory(baseURL string) (*HTTPRecipientDirectory, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("recipient directory url is required")
	}

	client := resty.New()
	client.SetTimeout(defaultClientTimeout)
	client.SetRetryCount(0)

	return &HTTPRecipientDirectory{client: client, baseURL: baseURL}, nil
}

type recipientPayload struct {
	UniversityID  string `json:"universityId"`
	Name          string `json:"name"`
	Method        string `json:"method"`
	Endpoint      string `json:"endpoint"`
	Address       string `json:"address"`
	SigningSecret string `json:"signingSecret"`
}

func (d *HTTPRecipientDirectory) Recipient(ctx context.Context, universityID string) (*Recipient, error) {
	universityID = strings.TrimSpace(universityID)
	if universityID == "" {
		return nil, fmt.Errorf("university id is required")
	}

	var payload recipientPayload
	response, err := d.client.R().
		SetContext(ctx).
		SetResult(&payload).
		Get(d.baseURL + "/v1/universities/" + url.PathEscape(universityID) + "/delivery-config")
	if err != nil {
		return nil, fmt.Errorf("recipient directory request failed: %w", err)
	}
	if response.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("recipient directory returned status %d for university %q", response.StatusCode(), universityID)
	}

	return &Recipient{
		UniversityID:  payload.UniversityID,
		Name:          payload.Name,
		Method:        domain.DeliveryMethod(payload.Method),
		Endpoint:      payload.Endpoint,
		Address:       payload.Address,
		SigningSecret: payload.SigningSecret,
	}, nil
}
