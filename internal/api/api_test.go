package api_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go"

	"github.com/oakhealth/preconsult/internal/api"
	"github.com/oakhealth/preconsult/internal/checklist"
	"github.com/oakhealth/preconsult/internal/models"
	"github.com/oakhealth/preconsult/internal/store"
	"github.com/oakhealth/preconsult/internal/summary"
	"github.com/oakhealth/preconsult/internal/testutil"
)

const completionDecision = `{"conversation_complete": true, "topics_completed": ["chief_complaint"], "optional_topics_to_skip": [], "current_topic": "", "next_question": ""}`

// failingClient stands in for an unreachable completion service so summary
// generation exercises its fallback outputs.
type failingClient struct{}

func (failingClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return "", errors.New("service unavailable")
}

func (failingClient) GenerateWithTemperature(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, temperature float64) (string, error) {
	return "", errors.New("service unavailable")
}

// createInterview posts a valid creation request and returns the new
// conversation id.
func createInterview(t *testing.T, srv *api.Server) string {
	t.Helper()
	req := testutil.CreateHTTPRequest(t, "POST", "/interviews", api.CreateInterviewRequest{
		PatientName: "John Smith",
		DoctorName:  "Dr. Jones",
	})
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, 201, rr.Code, "create interview")

	response := testutil.AssertJSONResponse(t, rr, "ok")
	result, ok := response["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected result object, got %v", response["result"])
	}
	id, _ := result["conversation_id"].(string)
	if id == "" {
		t.Fatal("expected a conversation id")
	}
	return id
}

func postMessage(t *testing.T, srv *api.Server, id, text string) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.CreateHTTPRequest(t, "POST", "/interviews/"+id+"/messages", api.PatientMessageRequest{Text: text})
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestCreateInterview(t *testing.T) {
	srv := testutil.NewTestServer(t, &testutil.ScriptedDecider{})

	req := testutil.CreateHTTPRequest(t, "POST", "/interviews", api.CreateInterviewRequest{
		PatientName: "John Smith",
		DoctorName:  "Dr. Jones",
	})
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, 201, rr.Code, "create interview")

	response := testutil.AssertJSONResponse(t, rr, "ok")
	result := response["result"].(map[string]interface{})
	message, _ := result["message"].(string)
	if !strings.Contains(message, "Dr. Jones") {
		t.Errorf("opening message should address the doctor by name, got %q", message)
	}
	progress, ok := result["progress"].(map[string]interface{})
	if !ok {
		t.Fatal("expected progress in creation response")
	}
	if progress["questions_asked"].(float64) != 1 {
		t.Errorf("opening turn should count as one question, got %v", progress["questions_asked"])
	}
}

func TestCreateInterviewValidation(t *testing.T) {
	srv := testutil.NewTestServer(t, &testutil.ScriptedDecider{})

	tests := []struct {
		name string
		body api.CreateInterviewRequest
	}{
		{"missing patient name", api.CreateInterviewRequest{DoctorName: "Dr. Jones"}},
		{"missing doctor name", api.CreateInterviewRequest{PatientName: "John Smith"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.CreateHTTPRequest(t, "POST", "/interviews", tt.body)
			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, req)
			testutil.AssertHTTPStatus(t, 400, rr.Code, tt.name)
			testutil.AssertJSONResponse(t, rr, "error")
		})
	}
}

func TestCreateInterviewInvalidJSON(t *testing.T) {
	srv := testutil.NewTestServer(t, &testutil.ScriptedDecider{})

	req := httptest.NewRequest("POST", "/interviews", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, 400, rr.Code, "invalid JSON")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestPatientMessageTurn(t *testing.T) {
	decider := &testutil.ScriptedDecider{}
	srv := testutil.NewTestServer(t, decider)
	id := createInterview(t, srv)

	rr := postMessage(t, srv, id, "I've been having headaches for two weeks")
	testutil.AssertHTTPStatus(t, 200, rr.Code, "patient message")

	response := testutil.AssertJSONResponse(t, rr, "ok")
	result := response["result"].(map[string]interface{})
	if result["message"].(string) != "Can you tell me more about that?" {
		t.Errorf("unexpected follow-up question: %v", result["message"])
	}
	if result["should_end"].(bool) {
		t.Error("continuation turn must not end the interview")
	}
	if decider.Calls != 1 {
		t.Errorf("expected one decision call, got %d", decider.Calls)
	}
}

func TestPatientMessageUnknownInterview(t *testing.T) {
	srv := testutil.NewTestServer(t, &testutil.ScriptedDecider{})

	rr := postMessage(t, srv, "no-such-id", "hello")
	testutil.AssertHTTPStatus(t, 404, rr.Code, "unknown interview")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestPatientMessageEmptyText(t *testing.T) {
	srv := testutil.NewTestServer(t, &testutil.ScriptedDecider{})
	id := createInterview(t, srv)

	rr := postMessage(t, srv, id, "   ")
	testutil.AssertHTTPStatus(t, 400, rr.Code, "empty message")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestInterviewEndPersistsRecord(t *testing.T) {
	decider := &testutil.ScriptedDecider{Responses: []string{completionDecision}}
	tmpl, err := checklist.Default()
	if err != nil {
		t.Fatalf("failed to load default template: %v", err)
	}
	st := store.NewInMemoryStore()
	srv := api.NewServer(tmpl, decider, testutil.QuietScreener{}, st)
	id := createInterview(t, srv)

	rr := postMessage(t, srv, id, "No, that's everything, thank you")
	testutil.AssertHTTPStatus(t, 200, rr.Code, "final turn")

	response := testutil.AssertJSONResponse(t, rr, "ok")
	result := response["result"].(map[string]interface{})
	if !result["should_end"].(bool) {
		t.Fatal("completion decision should end the interview")
	}
	if result["end_reason"].(string) != string(models.EndReasonCompleted) {
		t.Errorf("unexpected end reason: %v", result["end_reason"])
	}
	if msg := result["message"].(string); !strings.Contains(msg, "John Smith") {
		t.Errorf("closing should address the patient by name, got %q", msg)
	}

	rec, err := st.GetInterview(id)
	if err != nil {
		t.Fatalf("store lookup failed: %v", err)
	}
	if rec == nil {
		t.Fatal("finished interview should be persisted")
	}
	if rec.Status != models.StatusCompleted {
		t.Errorf("expected completed status, got %s", rec.Status)
	}

	// Further messages are rejected once the interview has ended.
	rr = postMessage(t, srv, id, "one more thing")
	testutil.AssertHTTPStatus(t, 409, rr.Code, "message after end")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestGetInterview(t *testing.T) {
	srv := testutil.NewTestServer(t, &testutil.ScriptedDecider{})
	id := createInterview(t, srv)

	req := testutil.CreateHTTPRequest(t, "GET", "/interviews/"+id, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, 200, rr.Code, "get interview")

	response := testutil.AssertJSONResponse(t, rr, "ok")
	result := response["result"].(map[string]interface{})
	if result["conversation_id"].(string) != id {
		t.Errorf("unexpected conversation id: %v", result["conversation_id"])
	}
	if result["patient_name"].(string) != "John Smith" {
		t.Errorf("unexpected patient name: %v", result["patient_name"])
	}
}

func TestGetInterviewNotFound(t *testing.T) {
	srv := testutil.NewTestServer(t, &testutil.ScriptedDecider{})

	req := testutil.CreateHTTPRequest(t, "GET", "/interviews/no-such-id", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, 404, rr.Code, "unknown interview")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestGetSummaryUnconfigured(t *testing.T) {
	srv := testutil.NewTestServer(t, &testutil.ScriptedDecider{})
	id := createInterview(t, srv)

	req := testutil.CreateHTTPRequest(t, "GET", "/interviews/"+id+"/summary", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, 503, rr.Code, "summarizer not configured")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestGetSummary(t *testing.T) {
	decider := &testutil.ScriptedDecider{Responses: []string{completionDecision}}
	tmpl, err := checklist.Default()
	if err != nil {
		t.Fatalf("failed to load default template: %v", err)
	}
	srv := api.NewServer(tmpl, decider, testutil.QuietScreener{}, store.NewInMemoryStore(),
		api.WithSummarizer(summary.NewGenerator(failingClient{})),
		api.WithSummaryDir(t.TempDir()))
	id := createInterview(t, srv)

	// While the interview is in progress the summary is not available.
	req := testutil.CreateHTTPRequest(t, "GET", "/interviews/"+id+"/summary", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, 409, rr.Code, "summary before end")

	rr = postMessage(t, srv, id, "No, that's everything")
	testutil.AssertHTTPStatus(t, 200, rr.Code, "final turn")

	req = testutil.CreateHTTPRequest(t, "GET", "/interviews/"+id+"/summary", nil)
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, 200, rr.Code, "summary after end")

	response := testutil.AssertJSONResponse(t, rr, "ok")
	result := response["result"].(map[string]interface{})
	if result["patient_name"].(string) != "John Smith" {
		t.Errorf("unexpected patient name: %v", result["patient_name"])
	}
	// The completion service is down, so the generator falls back to its
	// placeholder outputs.
	if result["short_summary"].(string) != "Summary unavailable." {
		t.Errorf("unexpected short summary: %v", result["short_summary"])
	}
	prep, ok := result["what_to_prepare"].([]interface{})
	if !ok || len(prep) == 0 {
		t.Errorf("expected default preparation items, got %v", result["what_to_prepare"])
	}
}

func TestGetSummaryUnknownInterview(t *testing.T) {
	tmpl, err := checklist.Default()
	if err != nil {
		t.Fatalf("failed to load default template: %v", err)
	}
	srv := api.NewServer(tmpl, &testutil.ScriptedDecider{}, testutil.QuietScreener{}, store.NewInMemoryStore(),
		api.WithSummarizer(summary.NewGenerator(failingClient{})))

	req := testutil.CreateHTTPRequest(t, "GET", "/interviews/no-such-id/summary", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, 404, rr.Code, "unknown interview")
	testutil.AssertJSONResponse(t, rr, "error")
}
