package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// MemberStore reads and seeds members.
type MemberStore interface {
	database.MemberDirectory
	database.MemberWriter
	GetEmbedding(ctx context.Context, memberID int64) (*database.Embedding, error)
}

// MembersHandler handles member seeding and lookup.
type MembersHandler struct {
	store MemberStore
	index *facematch.EmbeddingIndex
}

// NewMembersHandler creates a members handler. index may be nil.
func NewMembersHandler(store MemberStore, index *facematch.EmbeddingIndex) *MembersHandler {
	return &MembersHandler{store: store, index: index}
}

type memberRequest struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Status   string `json:"status"`
}

type memberResponse struct {
	ID           int64     `json:"id"`
	FullName     string    `json:"full_name"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	HasEmbedding bool      `json:"has_embedding"`
	Indexed      bool      `json:"indexed"`
}

// Save handles POST /members. Deactivating a member removes it from the
// index; activating one needs an index rebuild or a new enrollment.
func (h *MembersHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	if req.ID <= 0 || req.FullName == "" {
		respondError(w, http.StatusBadRequest, "id and full_name are required")
		return
	}
	status := database.MemberStatus(req.Status)
	switch status {
	case "":
		status = database.MemberActive
	case database.MemberActive, database.MemberPending:
	default:
		respondError(w, http.StatusBadRequest, "status must be active or pending")
		return
	}

	m := database.Member{ID: req.ID, FullName: req.FullName, Status: status}
	if err := h.store.SaveMember(r.Context(), m); err != nil {
		logger.FromContext(r.Context()).WithField(logger.FieldMemberID, req.ID).WithError(err).Error("failed to save member")
		respondDomainError(w, err)
		return
	}
	if !m.IsActive() && h.index != nil {
		h.index.Remove(m.ID)
	}
	h.respondMember(w, r, m.ID, http.StatusOK)
}

// Get handles GET /members/{memberID}.
func (h *MembersHandler) Get(w http.ResponseWriter, r *http.Request) {
	memberID, err := parseIDParam(r, "memberID")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondMember(w, r, memberID, http.StatusOK)
}

func (h *MembersHandler) respondMember(w http.ResponseWriter, r *http.Request, memberID int64, status int) {
	m, err := h.store.GetMember(r.Context(), memberID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	emb, err := h.store.GetEmbedding(r.Context(), memberID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	resp := memberResponse{
		ID:           m.ID,
		FullName:     facematch.NormalizeDisplayName(m.FullName),
		Status:       string(m.Status),
		CreatedAt:    m.CreatedAt,
		HasEmbedding: emb != nil,
	}
	if h.index != nil {
		resp.Indexed = h.index.Contains(memberID)
	}
	respondJSON(w, status, resp)
}
