// Package api provides interview lifecycle handlers for the HTTP endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/oakhealth/preconsult/internal/interview"
	"github.com/oakhealth/preconsult/internal/models"
	"github.com/oakhealth/preconsult/internal/summary"
)

// CreateInterviewRequest is the body of POST /interviews.
type CreateInterviewRequest struct {
	PatientName   string `json:"patient_name"`
	DoctorName    string `json:"doctor_name"`
	AppointmentID string `json:"appointment_id,omitempty"`
}

// Validate checks required creation fields.
func (r CreateInterviewRequest) Validate() error {
	if r.PatientName == "" {
		return errors.New("patient_name is required")
	}
	if r.DoctorName == "" {
		return errors.New("doctor_name is required")
	}
	return nil
}

// PatientMessageRequest is the body of POST /interviews/{id}/messages.
type PatientMessageRequest struct {
	Text string `json:"text"`
}

// TurnResponse is the result payload for creation and message turns.
type TurnResponse struct {
	ConversationID string           `json:"conversation_id"`
	Message        string           `json:"message"`
	ShouldEnd      bool             `json:"should_end"`
	EndReason      models.EndReason `json:"end_reason,omitempty"`
	Progress       models.Progress  `json:"progress"`
}

// createInterviewHandler handles POST /interviews
func (s *Server) createInterviewHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("createInterviewHandler invoked", "method", r.Method, "path", r.URL.Path)

	var req CreateInterviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("createInterviewHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("createInterviewHandler validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	conversationID := uuid.NewString()
	params := interview.Params{
		ConversationID: conversationID,
		PatientName:    req.PatientName,
		DoctorName:     req.DoctorName,
		AppointmentID:  req.AppointmentID,
	}

	var opts []interview.Option
	if s.detector != nil {
		opts = append(opts, interview.WithTopicDetector(s.detector))
	}
	orch := interview.NewOrchestrator(s.template, params, s.decider, s.screener, opts...)

	opening, err := orch.Start(r.Context())
	if err != nil {
		slog.Error("createInterviewHandler start failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start interview"))
		return
	}

	s.addSession(conversationID, &session{orch: orch})
	slog.Info("createInterviewHandler interview created", "conversationID", conversationID, "patient", req.PatientName)

	writeJSONResponse(w, http.StatusCreated, models.Success(TurnResponse{
		ConversationID: conversationID,
		Message:        opening,
		Progress:       orch.State().Progress(),
	}))
}

// patientMessageHandler handles POST /interviews/{id}/messages
func (s *Server) patientMessageHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	slog.Debug("patientMessageHandler invoked", "conversationID", id)

	sess, ok := s.getSession(id)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Interview not found"))
		return
	}

	var req PatientMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("patientMessageHandler invalid JSON", "error", err, "conversationID", id)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	reply, err := sess.orch.ProcessPatientResponse(r.Context(), req.Text)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInterviewEnded):
			writeJSONResponse(w, http.StatusConflict, models.Error("Interview already ended"))
		case errors.Is(err, models.ErrEmptyUtterance):
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Message text is required"))
		default:
			slog.Error("patientMessageHandler turn failed", "error", err, "conversationID", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		}
		return
	}

	if reply.ShouldEnd {
		s.persistRecord(sess)
	}

	writeJSONResponse(w, http.StatusOK, models.Success(TurnResponse{
		ConversationID: id,
		Message:        reply.Text,
		ShouldEnd:      reply.ShouldEnd,
		EndReason:      reply.EndReason,
		Progress:       sess.orch.State().Progress(),
	}))
}

// getInterviewHandler handles GET /interviews/{id}
func (s *Server) getInterviewHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	slog.Debug("getInterviewHandler invoked", "conversationID", id)

	if sess, ok := s.getSession(id); ok {
		sess.mu.Lock()
		rec := sess.orch.State().Snapshot()
		sess.mu.Unlock()
		writeJSONResponse(w, http.StatusOK, models.Success(rec))
		return
	}

	// Not live; fall back to the persistent store.
	rec, err := s.st.GetInterview(id)
	if err != nil {
		slog.Error("getInterviewHandler store lookup failed", "error", err, "conversationID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load interview"))
		return
	}
	if rec == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Interview not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(*rec))
}

// getSummaryHandler handles GET /interviews/{id}/summary
func (s *Server) getSummaryHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	slog.Debug("getSummaryHandler invoked", "conversationID", id)

	if s.summarizer == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Summary generation not configured"))
		return
	}

	if sess, ok := s.getSession(id); ok {
		sess.mu.Lock()
		defer sess.mu.Unlock()

		if !sess.orch.State().Status().IsTerminal() {
			writeJSONResponse(w, http.StatusConflict, models.Error("Interview still in progress"))
			return
		}
		if sess.outputs == nil {
			out := s.summarizer.Generate(r.Context(), sess.orch.State().Snapshot())
			sess.outputs = &out
			s.saveSummaryFile(out)
		}
		writeJSONResponse(w, http.StatusOK, models.Success(*sess.outputs))
		return
	}

	rec, err := s.st.GetInterview(id)
	if err != nil {
		slog.Error("getSummaryHandler store lookup failed", "error", err, "conversationID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load interview"))
		return
	}
	if rec == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Interview not found"))
		return
	}
	if !rec.Status.IsTerminal() {
		writeJSONResponse(w, http.StatusConflict, models.Error("Interview still in progress"))
		return
	}
	out := s.summarizer.Generate(r.Context(), *rec)
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

// persistRecord saves a finished interview snapshot. Persistence failures are
// logged but never fail the turn that ended the interview.
func (s *Server) persistRecord(sess *session) {
	rec := sess.orch.State().Snapshot()
	if err := s.st.SaveInterview(rec); err != nil {
		slog.Error("Server.persistRecord: failed to save interview", "error", err, "conversationID", rec.ConversationID)
		return
	}
	slog.Info("Server.persistRecord: interview persisted", "conversationID", rec.ConversationID, "status", rec.Status)
}

// saveSummaryFile writes the summary JSON file when a directory is configured.
func (s *Server) saveSummaryFile(out summary.Outputs) {
	if s.summaryDir == "" {
		return
	}
	if _, err := summary.SaveOutputs(out, s.summaryDir); err != nil {
		slog.Error("Server.saveSummaryFile: failed to save summary", "error", err, "conversationID", out.ConversationID)
	}
}
