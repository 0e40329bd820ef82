package deliverer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLetter() Letter {
	return Letter{
		RecommendationID: "rec-1",
		StudentName:      "Ada Student",
		RecommenderName:  "Prof. Grace",
		Subject:          "Recommendation for Ada Student",
		Body:             "She is excellent.",
	}
}

func TestAPIDelivererDeliverSuccess(t *testing.T) {
	t.Parallel()

	var gotBody apiSubmissionRequest
	var gotSignature string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}

		gotSignature = r.Header.Get(SignatureHeader)

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"referenceId":"uni-ref-42"}`))
	}))
	defer server.Close()

	d := NewAPIDeliverer()
	recipient := Recipient{
		UniversityID:  "uni-1",
		Endpoint:      server.URL,
		SigningSecret: "s3cret",
	}

	receipt, err := d.Deliver(context.Background(), testLetter(), recipient)
	if err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}

	if receipt.ExternalReference != "uni-ref-42" {
		t.Fatalf("ExternalReference = %q, want uni-ref-42", receipt.ExternalReference)
	}
	if receipt.StatusCode != http.StatusCreated {
		t.Fatalf("StatusCode = %d, want %d", receipt.StatusCode, http.StatusCreated)
	}
	if gotBody.RecommendationID != "rec-1" {
		t.Fatalf("recommendationId = %q, want rec-1", gotBody.RecommendationID)
	}
	if gotSignature == "" {
		t.Fatal("signature header must be set")
	}

	payload, err := json.Marshal(gotBody)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !VerifySignature(payload, "s3cret", gotSignature) {
		t.Fatal("signature must verify against the sent payload")
	}
}

func TestAPIDelivererDeliverPermanentFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"missing field"}`))
	}))
	defer server.Close()

	d := NewAPIDeliverer()
	_, err := d.Deliver(context.Background(), testLetter(), Recipient{UniversityID: "uni-1", Endpoint: server.URL})
	if err == nil {
		t.Fatal("Deliver() expected error for 4xx response")
	}

	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("error = %T, want *DeliveryError", err)
	}
	if deliveryErr.Transient {
		t.Fatal("4xx must be classified permanent")
	}
	if deliveryErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("StatusCode = %d, want 422", deliveryErr.StatusCode)
	}
	if IsTransient(err) {
		t.Fatal("IsTransient must be false for 4xx")
	}
}

func TestAPIDelivererDeliverTransientFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := NewAPIDeliverer()
	_, err := d.Deliver(context.Background(), testLetter(), Recipient{UniversityID: "uni-1", Endpoint: server.URL})
	if err == nil {
		t.Fatal("Deliver() expected error for 5xx response")
	}
	if !IsTransient(err) {
		t.Fatal("5xx must be classified transient")
	}
}

func TestAPIDelivererDeliverTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewAPIDeliverer()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.Deliver(ctx, testLetter(), Recipient{UniversityID: "uni-1", Endpoint: server.URL})
	if err == nil {
		t.Fatal("Deliver() expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("timeout must be classified transient, got %v", err)
	}
}

func TestAPIDelivererCanceledAttemptIsNotRetried(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewAPIDeliverer()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Deliver(ctx, testLetter(), Recipient{UniversityID: "uni-1", Endpoint: server.URL})
	if err == nil {
		t.Fatal("Deliver() expected error for canceled context")
	}
	if IsTransient(err) {
		t.Fatalf("caller cancellation must not be classified transient, got %v", err)
	}
}

func TestAPIDelivererMissingEndpoint(t *testing.T) {
	t.Parallel()

	d := NewAPIDeliverer()
	_, err := d.Deliver(context.Background(), testLetter(), Recipient{UniversityID: "uni-1"})
	if err == nil {
		t.Fatal("Deliver() expected error for missing endpoint")
	}
	if IsTransient(err) {
		t.Fatal("missing endpoint is a misconfiguration, must be permanent")
	}
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"recommendationId":"rec-1"}`)

	sig := Sign(payload, "secret-a")
	if !VerifySignature(payload, "secret-a", sig) {
		t.Fatal("signature must verify with the right secret")
	}
	if VerifySignature(payload, "secret-b", sig) {
		t.Fatal("signature must not verify with a different secret")
	}
	if VerifySignature([]byte(`{"recommendationId":"rec-2"}`), "secret-a", sig) {
		t.Fatal("signature must not verify for a different payload")
	}
}
