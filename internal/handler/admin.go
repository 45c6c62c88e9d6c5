package handler

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/viva/internal/engage"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/store"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		slog.Error("failed to list users", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type userOut struct {
		ID          int64          `json:"id"`
		Username    string         `json:"username"`
		DisplayName string         `json:"display_name"`
		Role        model.UserRole `json:"role"`
		Active      bool           `json:"active"`
	}
	out := make([]userOut, 0, len(users))
	for _, u := range users {
		out = append(out, userOut{u.ID, u.Username, u.DisplayName, u.Role, u.Active})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
		Role        string `json:"role"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}
	if req.Role == "" {
		req.Role = string(model.UserRoleTeacher)
	}

	id, err := h.store.CreateUser(model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         model.UserRole(req.Role),
		Active:       true,
	})
	if err != nil {
		slog.Error("failed to create user", "error", err)
		respondError(w, http.StatusConflict, "failed to create user: "+err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "userID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}
	if err := h.store.ToggleUserActive(id); err != nil {
		slog.Error("failed to toggle user active", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.store.ListStudents()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, students)
}

func (h *Handler) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName  string `json:"display_name"`
		AudioConsent bool   `json:"audio_consent"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DisplayName == "" {
		respondError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	id, err := h.store.CreateStudent(model.Student{
		DisplayName:  req.DisplayName,
		AudioConsent: req.AudioConsent,
	}, store.DefaultCodeAttempts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	st, err := h.store.GetStudent(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, st)
}

func (h *Handler) studentAction(w http.ResponseWriter, r *http.Request, action func(int64) error) {
	id, err := urlID(r, "studentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid student ID")
		return
	}
	if err := action(id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	st, err := h.store.GetStudent(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "student not found")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (h *Handler) handleGrantConsent(w http.ResponseWriter, r *http.Request) {
	h.studentAction(w, r, h.store.GrantAudioConsent)
}

func (h *Handler) handleRevokeConsent(w http.ResponseWriter, r *http.Request) {
	h.studentAction(w, r, h.store.RevokeAudioConsent)
}

func (h *Handler) handleDisableStudent(w http.ResponseWriter, r *http.Request) {
	h.studentAction(w, r, func(id int64) error { return h.store.SetStudentDisabled(id, true) })
}

func (h *Handler) handleEnableStudent(w http.ResponseWriter, r *http.Request) {
	h.studentAction(w, r, func(id int64) error { return h.store.SetStudentDisabled(id, false) })
}

// handleProtractedReport scans submitted submissions and flags those whose
// engagement exceeds the configured active-minutes or re-engagement limits.
func (h *Handler) handleProtractedReport(w http.ResponseWriter, r *http.Request) {
	report, err := engage.BuildProtractedReport(h.store, h.config.Thresholds)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}
