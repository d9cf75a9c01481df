package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haukened/linkvault/internal/app"
	"github.com/haukened/linkvault/internal/domain"
)

// PasswordHeader carries the item password on access and check requests.
const PasswordHeader = "X-Item-Password"

// multipartMemory is how much of a multipart upload is buffered in memory
// before spilling to a temporary file.
const multipartMemory = 8 << 20

type createBody struct {
	Type      string     `json:"type"`
	Content   string     `json:"content"`
	Password  string     `json:"password"`
	ExpiresAt *time.Time `json:"expiresAt"`
	MaxViews  int        `json:"maxViews"`
	IsOneTime bool       `json:"isOneTime"`
	LinkName  string     `json:"linkName"`
}

type createResponse struct {
	UniqueID  string    `json:"uniqueId"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type viewResponse struct {
	Type          domain.Kind `json:"type"`
	Content       string      `json:"content,omitempty"`
	FileName      string      `json:"fileName,omitempty"`
	FileSize      int64       `json:"fileSize,omitempty"`
	FileType      string      `json:"fileType,omitempty"`
	DownloadCount int64       `json:"downloadCount,omitempty"`
	ExpiresAt     time.Time   `json:"expiresAt"`
	ViewCount     int64       `json:"viewCount"`
	IsOneTime     bool        `json:"isOneTime"`
	LinkName      string      `json:"linkName,omitempty"`
}

// handleCreate implements POST /api/items. Text items are sent as JSON,
// file items as multipart/form-data with the payload in the "file" field.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var (
		req app.CreateRequest
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if h.MaxFileBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, h.MaxFileBytes+multipartOverhead)
		}
		if err = r.ParseMultipartForm(multipartMemory); err == nil {
			defer func() { _ = r.MultipartForm.RemoveAll() }()
			req, err = fileRequest(r)
		}
	} else {
		if h.MaxTextBytes > 0 {
			// worst case JSON escaping is six bytes per payload byte.
			r.Body = http.MaxBytesReader(w, r.Body, h.MaxTextBytes*6+64<<10)
		}
		req, err = textRequest(r.Body)
	}
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "size exceeded")
			return
		}
		h.writeError(r.Context(), w, http.StatusBadRequest, err.Error())
		return
	}
	req.OwnerID = UserID(r.Context())

	id, expiresAt, err := h.Service.Create(r.Context(), req)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{
		UniqueID:  id.String(),
		URL:       itemURL(r, id),
		ExpiresAt: expiresAt,
	})
}

func textRequest(body io.Reader) (app.CreateRequest, error) {
	var b createBody
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return app.CreateRequest{}, err
		}
		return app.CreateRequest{}, errors.New("invalid json body")
	}
	kind := domain.Kind(b.Type)
	if kind == "" {
		kind = domain.KindText
	}
	if kind == domain.KindFile {
		return app.CreateRequest{}, errors.New("file uploads require multipart/form-data")
	}
	req := app.CreateRequest{
		Kind:        kind,
		Text:        b.Content,
		Secret:      b.Password,
		MaxViews:    b.MaxViews,
		OneTime:     b.IsOneTime,
		DisplayName: b.LinkName,
	}
	if b.ExpiresAt != nil {
		req.ExpiresAt = *b.ExpiresAt
	}
	return req, nil
}

func fileRequest(r *http.Request) (app.CreateRequest, error) {
	if t := r.FormValue("type"); t != "" && t != string(domain.KindFile) {
		return app.CreateRequest{}, errors.New("multipart uploads must be of type file")
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return app.CreateRequest{}, errors.New("file field is required")
	}
	req := app.CreateRequest{
		Kind:        domain.KindFile,
		Secret:      r.FormValue("password"),
		DisplayName: r.FormValue("linkName"),
		File: &app.FileUpload{
			Name:        hdr.Filename,
			ContentType: hdr.Header.Get("Content-Type"),
			Size:        hdr.Size,
			Body:        f,
		},
	}
	if v := r.FormValue("expiresAt"); v != "" {
		if req.ExpiresAt, err = time.Parse(time.RFC3339, v); err != nil {
			return app.CreateRequest{}, errors.New("expiresAt must be an RFC 3339 timestamp")
		}
	}
	if v := r.FormValue("maxViews"); v != "" {
		if req.MaxViews, err = strconv.Atoi(v); err != nil {
			return app.CreateRequest{}, errors.New("maxViews must be an integer")
		}
	}
	if v := r.FormValue("isOneTime"); v != "" {
		if req.OneTime, err = strconv.ParseBool(v); err != nil {
			return app.CreateRequest{}, errors.New("isOneTime must be a boolean")
		}
	}
	return req, nil
}

func itemURL(r *http.Request, id domain.ItemID) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/api/items/" + id.String()
}

func presentedSecret(r *http.Request) string {
	if s := r.Header.Get(PasswordHeader); s != "" {
		return s
	}
	return r.URL.Query().Get("password")
}

// handleAccess implements GET /api/items/{id}. Text items are returned as
// JSON; file items are streamed.
func (h *Handler) handleAccess(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.Access(r.Context(), chi.URLParam(r, "id"), presentedSecret(r))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	resp := viewResponse{
		Type:      view.Kind,
		ExpiresAt: view.ExpiresAt,
		ViewCount: view.ViewCount,
		IsOneTime: view.OneTime,
		LinkName:  view.DisplayName,
	}
	if view.Kind == domain.KindText {
		resp.Content = view.Text
		writeJSON(w, http.StatusOK, resp)
		return
	}
	h.streamFile(w, r, view)
}

func (h *Handler) streamFile(w http.ResponseWriter, r *http.Request, view domain.ContentView) {
	rc, err := h.Service.OpenBlob(r.Context(), view)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	defer rc.Close()
	// the view was counted, so a final access releases the payload whether
	// or not the client reads it to the end.
	defer h.Service.ReleaseBlob(context.WithoutCancel(r.Context()), view)

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": view.File.Name})
	if disposition == "" {
		disposition = "attachment"
	}
	ct := view.File.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.FormatInt(view.File.Size, 10))
	w.Header().Set("X-View-Count", strconv.FormatInt(view.ViewCount, 10))
	w.Header().Set("X-Download-Count", strconv.FormatInt(view.DownloadCount, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.CopyN(w, rc, view.File.Size); err != nil {
		cid, _ := GetCorrelationID(r.Context())
		h.log().Warn("file stream interrupted", "domain", "http", "cid", cid, "error", err)
	}
}

// handleCheck implements POST /api/items/{id}/check, a dry run of access
// that never counts a view.
func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Check(r.Context(), chi.URLParam(r, "id"), presentedSecret(r)); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDelete implements DELETE /api/items/{id}.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), chi.URLParam(r, "id"), UserID(r.Context())); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

