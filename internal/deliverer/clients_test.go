package deliverer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/letterdesk/submission-engine/internal/domain"
)

func TestHTTPLetterSourceFetchesFinalizedLetter(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/letters/rec-1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"recommendationId":"rec-1","studentName":"Ada Lovelace","recommenderName":"Prof. Babbage","subject":"Recommendation","body":"...","finalized":true}`))
	}))
	defer server.Close()

	source, err := NewHTTPLetterSource(server.URL)
	if err != nil {
		t.Fatalf("NewHTTPLetterSource() error = %v", err)
	}

	letter, err := source.Letter(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("Letter() error = %v", err)
	}
	if letter.StudentName != "Ada Lovelace" {
		t.Fatalf("student = %q, want Ada Lovelace", letter.StudentName)
	}

	if _, err := source.Letter(context.Background(), "missing"); err == nil {
		t.Fatal("Letter() for unknown recommendation should fail")
	}
}

func TestHTTPLetterSourceRejectsDraft(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"recommendationId":"rec-1","finalized":false}`))
	}))
	defer server.Close()

	source, err := NewHTTPLetterSource(server.URL)
	if err != nil {
		t.Fatalf("NewHTTPLetterSource() error = %v", err)
	}

	if _, err := source.Letter(context.Background(), "rec-1"); err == nil {
		t.Fatal("Letter() for draft recommendation should fail")
	}
}

func TestHTTPRecipientDirectoryFetchesConfig(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/universities/uni-1/delivery-config" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"universityId":"uni-1","name":"Miskatonic University","method":"api","endpoint":"https://intake.example.edu/letters","signingSecret":"s3cret"}`))
	}))
	defer server.Close()

	directory, err := NewHTTPRecipientDirectory(server.URL)
	if err != nil {
		t.Fatalf("NewHTTPRecipientDirectory() error = %v", err)
	}

	recipient, err := directory.Recipient(context.Background(), "uni-1")
	if err != nil {
		t.Fatalf("Recipient() error = %v", err)
	}
	if recipient.Method != domain.MethodAPI {
		t.Fatalf("method = %q, want api", recipient.Method)
	}
	if recipient.SigningSecret != "s3cret" {
		t.Fatalf("signing secret = %q", recipient.SigningSecret)
	}

	if _, err := directory.Recipient(context.Background(), "missing"); err == nil {
		t.Fatal("Recipient() for unknown university should fail")
	}
}
