package deliverer

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultAPITimeout = 10 * time.Second

// SignatureHeader carries the hex HMAC-SHA256 of the request body, keyed by
// the recipient's signing secret.
const SignatureHeader = "X-Letterdesk-Signature"

type apiSubmissionRequest struct {
	RecommendationID string `json:"recommendationId"`
	StudentName      string `json:"studentName"`
	RecommenderName  string `json:"recommenderName"`
	Subject          string `json:"subject"`
	Body             string `json:"body"`
}

type apiSubmissionResponse struct {
	ReferenceID string `json:"referenceId"`
}

// APIDeliverer posts the letter to the university's programmatic intake
// endpoint with a signed payload.
type APIDeliverer struct {
	client *resty.Client
}

func NewAPIDeliverer() *APIDeliverer {
	client := resty.New()
	client.SetTimeout(defaultAPITimeout)
	client.SetRetryCount(0)

	return &APIDeliverer{client: client}
}

func NewAPIDelivererWithClient(client *resty.Client) (*APIDeliverer, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultAPITimeout)
	}
	client.SetRetryCount(0)

	return &APIDeliverer{client: client}, nil
}

func (d *APIDeliverer) Deliver(ctx context.Context, letter Letter, recipient Recipient) (*Receipt, error) {
	if d == nil || d.client == nil {
		return nil, fmt.Errorf("deliverer is not initialized")
	}

	endpoint := strings.TrimSpace(recipient.Endpoint)
	if endpoint == "" {
		return nil, &DeliveryError{
			Message:   fmt.Sprintf("recipient %q has no api endpoint configured", recipient.UniversityID),
			Transient: false,
		}
	}

	reqBody := apiSubmissionRequest{
		RecommendationID: letter.RecommendationID,
		StudentName:      letter.StudentName,
		RecommenderName:  letter.RecommenderName,
		Subject:          letter.Subject,
		Body:             letter.Body,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &DeliveryError{
			Message:   "failed to encode submission payload",
			Transient: false,
			Cause:     err,
		}
	}

	response, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(SignatureHeader, Sign(payload, recipient.SigningSecret)).
		SetBody(payload).
		Post(endpoint)
	if err != nil {
		return nil, &DeliveryError{
			Message:   "recipient request failed",
			Transient: transientTransportError(err),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &DeliveryError{
			Message:   "recipient returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Receipt{
			ExternalReference: externalReference(response, responseBody),
			StatusCode:        statusCode,
			Detail:            responseBody,
		}, nil
	}

	return nil, &DeliveryError{
		StatusCode: statusCode,
		Message:    recipientErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

// Sign computes the hex HMAC-SHA256 signature of the payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the payload signature in
// constant time.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func recipientErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("recipient returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func externalReference(response *resty.Response, body string) string {
	if body != "" {
		var parsed apiSubmissionResponse
		if err := json.Unmarshal([]byte(body), &parsed); err == nil {
			if ref := strings.TrimSpace(parsed.ReferenceID); ref != "" {
				return ref
			}
		}
	}

	for _, key := range []string{"X-Reference-ID", "X-Reference-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
