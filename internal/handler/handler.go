// Package handler exposes the JSON HTTP API: teacher assessment authoring,
// student submission play, integrity and engagement event intake, and the
// scoring sweep endpoint.
package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/viva/internal/assets"
	"github.com/pavelanni/viva/internal/engage"
	"github.com/pavelanni/viva/internal/integrity"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/scoring"
	"github.com/pavelanni/viva/internal/store"
	"github.com/pavelanni/viva/internal/validate"
)

// maxUploadBytes bounds audio and image uploads.
const maxUploadBytes = 25 << 20

// Config carries HTTP-layer settings.
type Config struct {
	SecureCookies bool
	// SweepSecret authorizes the scoring sweep endpoint. Empty means the
	// endpoint is open; main logs a loud warning in that case.
	SweepSecret  string
	SignedURLTTL time.Duration
	Thresholds   engage.Thresholds
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	pipeline *scoring.Pipeline
	recorder *integrity.Recorder
	assets   *assets.Store
	config   Config
}

// New creates a new Handler. assets may be nil when blob storage is not
// configured; asset endpoints then report 503.
func New(s *store.Store, p *scoring.Pipeline, rec *integrity.Recorder, a *assets.Store, cfg Config) *Handler {
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 15 * time.Minute
	}
	if cfg.Thresholds == (engage.Thresholds{}) {
		cfg.Thresholds = engage.DefaultThresholds
	}
	return &Handler{store: s, pipeline: p, recorder: rec, assets: a, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)

		r.Route("/play", func(r chi.Router) {
			r.Use(h.requireStudent)
			r.Post("/assessments/{assessmentID}/submissions", h.handleOpenSubmission)
			r.Get("/submissions/{submissionID}", h.handlePlaySubmission)
			r.Put("/submissions/{submissionID}/answers/{questionID}", h.handleSaveAnswer)
			r.Post("/submissions/{submissionID}/answers/{questionID}/audio", h.handleUploadAudioAnswer)
			r.Post("/submissions/{submissionID}/submit", h.handleSubmitSubmission)
			r.Post("/submissions/{submissionID}/integrity-events", h.handleIntegrityEvent)
			r.Post("/submissions/{submissionID}/engagement-events", h.handleEngagementEvent)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))

			r.Route("/assessments", func(r chi.Router) {
				r.Get("/", h.handleListAssessments)
				r.Post("/", h.handleCreateAssessment)
				r.Route("/{assessmentID}", func(r chi.Router) {
					r.Get("/", h.handleGetAssessment)
					r.Patch("/", h.handleUpdateAssessment)
					r.Get("/validation", h.handleValidate)
					r.Post("/publish", h.handlePublish)
					r.Post("/close", h.handleClose)
					r.Get("/questions", h.handleListQuestions)
					r.Post("/questions", h.handleCreateQuestion)
					r.Get("/rubrics", h.handleListRubrics)
					r.Put("/rubrics/{rubricType}", h.handleUpsertRubric)
					r.Get("/visual", h.handleGetVisual)
					r.Put("/visual", h.handleUploadVisual)
					r.Get("/submissions", h.handleListSubmissions)
				})
			})
			r.Put("/questions/{questionID}", h.handleUpdateQuestion)
			r.Delete("/questions/{questionID}", h.handleDeleteQuestion)
			r.Get("/submissions/{submissionID}", h.handleReviewSubmission)
			r.Post("/submissions/{submissionID}/rescore", h.handleForceRescore)
			r.Get("/answers/{answerID}/audio-url", h.handleAnswerAudioURL)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/users", h.handleListUsers)
				r.Post("/users", h.handleCreateUser)
				r.Post("/users/{userID}/toggle", h.handleToggleUserActive)
				r.Get("/students", h.handleListStudents)
				r.Post("/students", h.handleCreateStudent)
				r.Post("/students/{studentID}/consent/grant", h.handleGrantConsent)
				r.Post("/students/{studentID}/consent/revoke", h.handleRevokeConsent)
				r.Post("/students/{studentID}/disable", h.handleDisableStudent)
				r.Post("/students/{studentID}/enable", h.handleEnableStudent)
				r.Get("/reports/protracted", h.handleProtractedReport)
			})
		})

		r.Post("/internal/scoring/sweep", h.handleSweep)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func urlID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func (h *Handler) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	list, err := h.store.ListAssessmentsByTeacher(user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreateAssessment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title     string                 `json:"title"`
		Integrity *model.IntegrityConfig `json:"integrity"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Integrity == nil {
		cfg := model.DefaultIntegrityConfig()
		req.Integrity = &cfg
	}

	user := model.UserFromContext(r.Context())
	id, err := h.store.CreateAssessment(model.Assessment{
		TeacherID: user.ID,
		Title:     req.Title,
		Integrity: *req.Integrity,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a, err := h.store.GetAssessment(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

func (h *Handler) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "assessmentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assessment ID")
		return
	}
	a, err := h.store.GetAssessment(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "assessment not found")
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// requireDraft rejects authoring mutations once an assessment leaves the
// draft phase. Questions, rubrics, and the title are frozen at publish.
func (h *Handler) requireDraft(w http.ResponseWriter, assessmentID int64) bool {
	a, err := h.store.GetAssessment(assessmentID)
	if err != nil {
		respondError(w, http.StatusNotFound, "assessment not found")
		return false
	}
	if a.Status != model.StatusDraft {
		respondError(w, http.StatusConflict, "assessment is "+string(a.Status)+": authoring is locked after publish")
		return false
	}
	return true
}

func (h *Handler) handleUpdateAssessment(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "assessmentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assessment ID")
		return
	}
	if !h.requireDraft(w, id) {
		return
	}
	var req struct {
		Title     *string                `json:"title"`
		Integrity *model.IntegrityConfig `json:"integrity"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Title != nil {
		if err := h.store.UpdateAssessmentTitle(id, *req.Title); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if req.Integrity != nil {
		if err := h.store.UpdateIntegrityConfig(id, *req.Integrity); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	a, err := h.store.GetAssessment(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "assessment not found")
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// validation runs the publish-gate checks for an assessment.
func (h *Handler) validation(assessmentID int64) (validate.Result, error) {
	questions, err := h.store.ListQuestions(assessmentID)
	if err != nil {
		return validate.Result{}, err
	}
	rubrics, err := h.store.ListRubrics(assessmentID)
	if err != nil {
		return validate.Result{}, err
	}
	return validate.AssessmentPhase1(questions, rubrics), nil
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "assessmentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assessment ID")
		return
	}
	result, err := h.validation(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "assessmentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assessment ID")
		return
	}

	result, err := h.validation(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !result.CanPublish {
		respondJSON(w, http.StatusUnprocessableEntity, result)
		return
	}

	if err := h.store.PublishAssessment(id); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	a, err := h.store.GetAssessment(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "assessmentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assessment ID")
		return
	}
	if err := h.store.CloseAssessment(id); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	a, err := h.store.GetAssessment(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "assessment not found")
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "assessmentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assessment ID")
		return
	}
	questions, err := h.store.ListQuestions(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, questions)
}

func (h *Handler) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "assessmentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assessment ID")
		return
	}
	if !h.requireDraft(w, id) {
		return
	}
	var req struct {
		Text     string                    `json:"text"`
		Type     model.QuestionType        `json:"type"`
		Bloom    model.BloomLevel          `json:"bloom_level"`
		Evidence model.EvidenceRequirement `json:"evidence"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = model.QuestionOrdinary
	}

	qid, err := h.store.InsertQuestion(model.Question{
		AssessmentID: id,
		Text:         req.Text,
		Type:         req.Type,
		Bloom:        req.Bloom,
		Evidence:     req.Evidence,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	q, err := h.store.GetQuestion(qid)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, q)
}

func (h *Handler) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "questionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid question ID")
		return
	}
	q, err := h.store.GetQuestion(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "question not found")
		return
	}
	if q.SystemGenerated() {
		respondError(w, http.StatusForbidden, store.ErrImmutableQuestion.Error())
		return
	}
	if !h.requireDraft(w, q.AssessmentID) {
		return
	}
	var req struct {
		Text     *string                    `json:"text"`
		Bloom    *model.BloomLevel          `json:"bloom_level"`
		Evidence *model.EvidenceRequirement `json:"evidence"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text != nil {
		q.Text = *req.Text
	}
	if req.Bloom != nil {
		q.Bloom = *req.Bloom
	}
	if req.Evidence != nil {
		q.Evidence = *req.Evidence
	}

	if err := h.store.UpdateQuestion(q); err != nil {
		if errors.Is(err, store.ErrImmutableQuestion) {
			respondError(w, http.StatusForbidden, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, q)
}

func (h *Handler) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "questionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid question ID")
		return
	}
	q, err := h.store.GetQuestion(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "question not found")
		return
	}
	if q.SystemGenerated() {
		respondError(w, http.StatusForbidden, store.ErrImmutableQuestion.Error())
		return
	}
	if !h.requireDraft(w, q.AssessmentID) {
		return
	}
	if err := h.store.DeleteQuestion(id); err != nil {
		if errors.Is(err, store.ErrImmutableQuestion) {
			respondError(w, http.StatusForbidden, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListRubrics(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "assessmentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assessment ID")
		return
	}
	rubrics, err := h.store.ListRubrics(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rubrics)
}

func (h *Handler) handleUpsertRubric(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "assessmentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assessment ID")
		return
	}
	rubricType := model.RubricType(chi.URLParam(r, "rubricType"))
	if rubricType != model.RubricReasoning && rubricType != model.RubricEvidence {
		respondError(w, http.StatusBadRequest, "unknown rubric type")
		return
	}
	if !h.requireDraft(w, id) {
		return
	}
	var req struct {
		Instructions string `json:"instructions"`
		ScaleMin     int    `json:"scale_min"`
		ScaleMax     int    `json:"scale_max"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ScaleMin >= req.ScaleMax {
		respondError(w, http.StatusBadRequest, "scale_min must be below scale_max")
		return
	}

	err = h.store.UpsertRubric(model.Rubric{
		AssessmentID: id,
		Type:         rubricType,
		Instructions: req.Instructions,
		ScaleMin:     req.ScaleMin,
		ScaleMax:     req.ScaleMax,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rubric, err := h.store.GetRubric(id, rubricType)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rubric)
}

func (h *Handler) handleGetVisual(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "assessmentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assessment ID")
		return
	}
	asset, err := h.store.GetVisualAsset(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if asset == nil {
		respondError(w, http.StatusNotFound, "no visual asset")
		return
	}
	if h.assets == nil {
		respondError(w, http.StatusServiceUnavailable, "asset storage not configured")
		return
	}
	url, err := h.assets.SignedURL(asset.ObjectKey, h.config.SignedURLTTL)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"asset": asset, "url": url})
}

func (h *Handler) handleUploadVisual(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "assessmentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assessment ID")
		return
	}
	if h.assets == nil {
		respondError(w, http.StatusServiceUnavailable, "asset storage not configured")
		return
	}

	data, contentType, err := readUpload(r, "image")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	key, err := h.assets.UploadVisual(data, contentType)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	user := model.UserFromContext(r.Context())
	asset := model.VisualAsset{
		AssessmentID: id,
		ObjectKey:    key,
		Mime:         contentType,
		UploadedBy:   user.ID,
	}
	if err := h.store.UpsertVisualAsset(asset); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, asset)
}

// readUpload extracts one uploaded file from a multipart form.
func readUpload(r *http.Request, field string) (data []byte, contentType string, err error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", errors.New("upload too large or malformed")
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", errors.New("missing " + field + " file")
	}
	defer file.Close()
	data, err = io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return nil, "", err
	}
	return data, header.Header.Get("Content-Type"), nil
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "assessmentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assessment ID")
		return
	}
	subs, err := h.store.ListSubmissions(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, subs)
}

// handleReviewSubmission returns the full teacher review view: answers with
// scores, generated follow-ups, integrity events, and engagement metrics.
func (h *Handler) handleReviewSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "submissionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid submission ID")
		return
	}
	view, err := h.store.GetSubmissionView(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "submission not found")
		return
	}
	events, err := h.store.ListIntegrityEvents(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	engEvents, err := h.store.ListEngagementEvents(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics := engage.ComputeMetrics(engEvents)
	protracted, reasons := engage.Protracted(metrics, h.config.Thresholds)

	respondJSON(w, http.StatusOK, map[string]any{
		"view":               view,
		"integrity_events":   events,
		"engagement":         metrics,
		"protracted":         protracted,
		"protracted_reasons": reasons,
	})
}

func (h *Handler) handleForceRescore(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "submissionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid submission ID")
		return
	}
	sub, err := h.store.GetSubmission(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "submission not found")
		return
	}
	if sub.Status != model.SubmissionSubmitted {
		respondError(w, http.StatusConflict, "submission is not submitted")
		return
	}

	if err := h.pipeline.ForceRescore(r.Context(), id); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	sub, err = h.store.GetSubmission(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleAnswerAudioURL(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "answerID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid answer ID")
		return
	}
	if h.assets == nil {
		respondError(w, http.StatusServiceUnavailable, "asset storage not configured")
		return
	}

	answer, err := h.store.GetAnswer(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "answer not found")
		return
	}
	if answer.AudioKey == "" {
		respondError(w, http.StatusNotFound, "answer has no audio")
		return
	}
	url, err := h.assets.SignedURL(answer.AudioKey, h.config.SignedURLTTL)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleSweep runs the scoring sweep. Called by an external cron scheduler
// with a bearer secret; when no secret is configured the call is allowed
// through (deployments behind a private network rely on that).
func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	if h.config.SweepSecret != "" {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if len(token) != len(h.config.SweepSecret) ||
			subtle.ConstantTimeCompare([]byte(token), []byte(h.config.SweepSecret)) != 1 {
			respondError(w, http.StatusUnauthorized, "invalid sweep secret")
			return
		}
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	results, err := h.pipeline.RunSweep(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}
