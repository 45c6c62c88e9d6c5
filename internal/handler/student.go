package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavelanni/viva/internal/integrity"
	"github.com/pavelanni/viva/internal/model"
)

// handleOpenSubmission opens (or resumes) the student's submission on a live
// assessment and moves it to in-progress.
func (h *Handler) handleOpenSubmission(w http.ResponseWriter, r *http.Request) {
	assessmentID, err := urlID(r, "assessmentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assessment ID")
		return
	}
	a, err := h.store.GetAssessment(assessmentID)
	if err != nil {
		respondError(w, http.StatusNotFound, "assessment not found")
		return
	}
	if a.Status != model.StatusLive {
		respondError(w, http.StatusConflict, "assessment is not open for submissions")
		return
	}

	student := studentFromContext(r.Context())
	sub, err := h.store.GetSubmissionFor(assessmentID, student.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sub == nil {
		id, err := h.store.CreateSubmission(assessmentID, student.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		created, err := h.store.GetSubmission(id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		sub = &created
	}
	if sub.Status == model.SubmissionSubmitted {
		respondError(w, http.StatusConflict, "submission already submitted")
		return
	}
	if sub.Status == model.SubmissionNotStarted {
		if err := h.store.StartSubmission(sub.ID); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		refreshed, err := h.store.GetSubmission(sub.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		sub = &refreshed
	}
	respondJSON(w, http.StatusOK, sub)
}

// playSubmission loads the submission named in the URL and verifies it
// belongs to the authenticated student.
func (h *Handler) playSubmission(w http.ResponseWriter, r *http.Request) (model.Submission, bool) {
	id, err := urlID(r, "submissionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid submission ID")
		return model.Submission{}, false
	}
	sub, err := h.store.GetSubmission(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "submission not found")
		return model.Submission{}, false
	}
	student := studentFromContext(r.Context())
	if sub.StudentID != student.ID {
		respondError(w, http.StatusForbidden, "not your submission")
		return model.Submission{}, false
	}
	return sub, true
}

// handlePlaySubmission returns the submission with its questions: the
// assessment's ordered questions plus any follow-ups generated for this
// submission.
func (h *Handler) handlePlaySubmission(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.playSubmission(w, r)
	if !ok {
		return
	}
	questions, err := h.store.ListQuestions(sub.AssessmentID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	followups, err := h.store.ListFollowupQuestions(sub.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	answers, err := h.store.ListAnswers(sub.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"submission": sub,
		"questions":  questions,
		"followups":  followups,
		"answers":    answers,
	})
}

func (h *Handler) handleSaveAnswer(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.playSubmission(w, r)
	if !ok {
		return
	}
	if sub.Status != model.SubmissionInProgress {
		respondError(w, http.StatusConflict, "submission is not in progress")
		return
	}
	questionID, err := urlID(r, "questionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid question ID")
		return
	}
	q, err := h.store.GetQuestion(questionID)
	if err != nil || q.AssessmentID != sub.AssessmentID {
		respondError(w, http.StatusNotFound, "question not found")
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := h.store.UpsertAnswer(model.Answer{
		SubmissionID: sub.ID,
		QuestionID:   questionID,
		Text:         req.Text,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"answer_id": id})
}

// handleUploadAudioAnswer stores an audio recording as the answer. Audio
// capture requires standing consent, checked here before any byte is stored.
func (h *Handler) handleUploadAudioAnswer(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.playSubmission(w, r)
	if !ok {
		return
	}
	if sub.Status != model.SubmissionInProgress {
		respondError(w, http.StatusConflict, "submission is not in progress")
		return
	}
	student := studentFromContext(r.Context())
	if !student.ConsentOK() {
		respondError(w, http.StatusForbidden, "audio consent required")
		return
	}
	if h.assets == nil {
		respondError(w, http.StatusServiceUnavailable, "asset storage not configured")
		return
	}
	questionID, err := urlID(r, "questionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid question ID")
		return
	}
	q, err := h.store.GetQuestion(questionID)
	if err != nil || q.AssessmentID != sub.AssessmentID {
		respondError(w, http.StatusNotFound, "question not found")
		return
	}

	data, contentType, err := readUpload(r, "audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	key, err := h.assets.UploadAudio(data, contentType)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	id, err := h.store.UpsertAnswer(model.Answer{
		SubmissionID: sub.ID,
		QuestionID:   questionID,
		AudioKey:     key,
		AudioMime:    contentType,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"answer_id": id, "audio_key": key})
}

func (h *Handler) handleSubmitSubmission(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.playSubmission(w, r)
	if !ok {
		return
	}
	if err := h.store.SubmitSubmission(sub.ID); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	// Close the engagement timeline server-side; a duplicate closer from the
	// client is a no-op in the replay.
	if _, err := h.store.InsertEngagementEvent(model.EngagementEvent{
		SubmissionID: sub.ID,
		AssessmentID: sub.AssessmentID,
		StudentID:    sub.StudentID,
		Type:         model.EngagementSubmitted,
	}); err != nil {
		slog.Error("failed to record submitted engagement event",
			"submission_id", sub.ID, "error", err)
	}

	refreshed, err := h.store.GetSubmission(sub.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, refreshed)
}

// trackingEnabled maps an event type to the assessment's integrity config.
func trackingEnabled(cfg model.IntegrityConfig, t model.IntegrityEventType) bool {
	switch t {
	case model.IntegrityTabSwitch:
		return cfg.TrackTabSwitches
	case model.IntegrityFastStart, model.IntegritySlowStart, model.IntegrityLongPause:
		return cfg.TrackPacing
	case model.IntegrityScreenshotAttempt:
		return cfg.TrackScreenshots
	}
	return false
}

// handleIntegrityEvent records a behavioral signal. Events for a signal the
// teacher disabled are acknowledged and dropped, so clients need no config
// awareness.
func (h *Handler) handleIntegrityEvent(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.playSubmission(w, r)
	if !ok {
		return
	}
	var req struct {
		Type       model.IntegrityEventType `json:"type"`
		QuestionID *int64                   `json:"question_id"`
		DurationMS *int64                   `json:"duration_ms"`
		Metadata   map[string]string        `json:"metadata"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if model.ValidIntegrityEventTypes[req.Type] {
		a, err := h.store.GetAssessment(sub.AssessmentID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !trackingEnabled(a.Integrity, req.Type) {
			respondJSON(w, http.StatusOK, map[string]bool{"recorded": false})
			return
		}
	}

	id, err := h.recorder.Record(r.Context(), sub.ID, model.IntegrityEvent{
		Type:       req.Type,
		QuestionID: req.QuestionID,
		DurationMS: req.DurationMS,
		Metadata:   req.Metadata,
	})
	switch {
	case errors.Is(err, integrity.ErrInvalidEvent):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, integrity.ErrConsentRequired):
		respondError(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"recorded": true, "id": id})
}

func (h *Handler) handleEngagementEvent(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.playSubmission(w, r)
	if !ok {
		return
	}
	var req struct {
		Type model.EngagementEventType `json:"type"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	switch req.Type {
	case model.EngagementStarted, model.EngagementPaused, model.EngagementResumed, model.EngagementSubmitted:
	default:
		respondError(w, http.StatusBadRequest, "unknown engagement event type")
		return
	}

	id, err := h.store.InsertEngagementEvent(model.EngagementEvent{
		SubmissionID: sub.ID,
		AssessmentID: sub.AssessmentID,
		StudentID:    sub.StudentID,
		Type:         req.Type,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}
