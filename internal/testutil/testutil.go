// Package testutil provides common test utilities and helpers for API tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oakhealth/preconsult/internal/api"
	"github.com/oakhealth/preconsult/internal/checklist"
	"github.com/oakhealth/preconsult/internal/interview"
	"github.com/oakhealth/preconsult/internal/models"
	"github.com/oakhealth/preconsult/internal/store"
)

// ScriptedDecider returns queued raw decision payloads in order, repeating the
// last one when the queue is exhausted.
type ScriptedDecider struct {
	Responses []string
	Calls     int
}

// Decide pops the next scripted response.
func (d *ScriptedDecider) Decide(ctx context.Context, req interview.DecisionRequest) (string, error) {
	d.Calls++
	if len(d.Responses) == 0 {
		return `{"conversation_complete": false, "topics_completed": [], "optional_topics_to_skip": [], "current_topic": "", "next_question": "Can you tell me more about that?"}`, nil
	}
	resp := d.Responses[0]
	if len(d.Responses) > 1 {
		d.Responses = d.Responses[1:]
	}
	return resp, nil
}

// QuietScreener never detects a red flag.
type QuietScreener struct{}

// Screen always reports no flag.
func (QuietScreener) Screen(ctx context.Context, utterance string, categories map[string]checklist.RedFlagCategory) (*models.ScreenResult, error) {
	return nil, nil
}

// NewTestServer creates a test API server with an in-memory store and
// scripted collaborators.
func NewTestServer(t *testing.T, decider *ScriptedDecider) *api.Server {
	t.Helper()
	tmpl, err := checklist.Default()
	if err != nil {
		t.Fatalf("failed to load default template: %v", err)
	}
	return api.NewServer(tmpl, decider, QuietScreener{}, store.NewInMemoryStore())
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, url, reqBody)
	req.Header.Set("Content-Type", "application/json")
	return req
}
