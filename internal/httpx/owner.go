package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/haukened/linkvault/internal/domain"
)

// maxClaimBody bounds the claim request body.
const maxClaimBody = 64 << 10

type summaryResponse struct {
	UniqueID      string      `json:"uniqueId"`
	Type          domain.Kind `json:"type"`
	FileName      string      `json:"fileName,omitempty"`
	FileSize      int64       `json:"fileSize,omitempty"`
	FileType      string      `json:"fileType,omitempty"`
	Protected     bool        `json:"protected"`
	ExpiresAt     time.Time   `json:"expiresAt"`
	MaxViews      int         `json:"maxViews,omitempty"`
	IsOneTime     bool        `json:"isOneTime"`
	ViewCount     int64       `json:"viewCount"`
	DownloadCount int64       `json:"downloadCount"`
	CreatedAt     time.Time   `json:"createdAt"`
	LinkName      string      `json:"linkName,omitempty"`
}

// handleList implements GET /api/my/items.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.Service.List(r.Context(), UserID(r.Context()))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	out := make([]summaryResponse, 0, len(items))
	for _, s := range items {
		out = append(out, summaryResponse{
			UniqueID:      s.ID.String(),
			Type:          s.Kind,
			FileName:      s.FileName,
			FileSize:      s.FileSize,
			FileType:      s.ContentType,
			Protected:     s.Protected,
			ExpiresAt:     s.ExpiresAt,
			MaxViews:      s.MaxViews,
			IsOneTime:     s.OneTime,
			ViewCount:     s.ViewCount,
			DownloadCount: s.DownloadCount,
			CreatedAt:     s.CreatedAt,
			LinkName:      s.DisplayName,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Links []summaryResponse `json:"links"`
	}{Links: out})
}

// handleClaim implements PUT /api/my/items/claim.
func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxClaimBody)).Decode(&body); err != nil {
		h.writeError(r.Context(), w, http.StatusBadRequest, "invalid json body")
		return
	}
	claimed, err := h.Service.Claim(r.Context(), trimIDs(body.IDs), UserID(r.Context()))
	if err != nil {
		if len(claimed) > 0 {
			cid, _ := GetCorrelationID(r.Context())
			h.log().Warn("claim interrupted", "domain", "http", "cid", cid, "claimed", len(claimed))
		}
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Claimed      []string `json:"claimed"`
		ClaimedCount int      `json:"claimedCount"`
	}{Claimed: claimed, ClaimedCount: len(claimed)})
}

// trimIDs drops blank entries from a client supplied id list.
func trimIDs(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
