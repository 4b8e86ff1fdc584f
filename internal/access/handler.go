package access

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"orgregistry/internal/catalog"
	"orgregistry/internal/platform/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PrincipalHeader carries the caller's authenticated identity, set by the fronting gateway.
const PrincipalHeader = httputil.PrincipalHeader

const maxRequestBody = 4 << 10

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register registers the access routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/access/orgs/{orgId}/files", h.handleListFiles)
	r.Post("/v1/access/download-token", h.handleIssue)
	r.Get("/v1/access/download/{token}", h.handleDownload)
}

type issueRequest struct {
	OrgID  *uint32 `json:"orgId"`
	FileID *uint32 `json:"fileId"`
}

type downloadResponse struct {
	Principal string    `json:"principal"`
	OrgID     uint32    `json:"orgId"`
	FileID    uint32    `json:"fileId"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Type      string    `json:"type"`
	Location  string    `json:"location"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type filesResponse struct {
	OrgID uint32         `json:"orgId"`
	Files []catalog.File `json:"files"`
}

// writeAccessError maps service errors; anything unexpected is logged and hidden.
func writeAccessError(w http.ResponseWriter, r *http.Request, what string, err error) {
	switch {
	case errors.Is(err, ErrNotVerified), errors.Is(err, ErrVerificationStale):
		httputil.WriteError(w, http.StatusForbidden, httputil.CodeForbidden, err.Error())
	case errors.Is(err, catalog.ErrUnknownFile):
		httputil.WriteError(w, http.StatusNotFound, httputil.CodeNotFound, err.Error())
	default:
		logger.Errorf("request %s: %s: %v", middleware.GetReqID(r.Context()), what, err)
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "")
	}
}

func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	principal := r.Header.Get(PrincipalHeader)
	if principal == "" {
		httputil.WriteError(w, http.StatusUnauthorized, httputil.CodeUnauthorized, "missing "+PrincipalHeader+" header")
		return
	}
	orgID, ok := httputil.Uint32Param(r, "orgId")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, "orgId must be an unsigned 32-bit integer")
		return
	}
	files, err := h.service.ListFiles(r.Context(), principal, orgID)
	if err != nil {
		writeAccessError(w, r, "list files", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, filesResponse{OrgID: orgID, Files: files})
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	principal := r.Header.Get(PrincipalHeader)
	if principal == "" {
		httputil.WriteError(w, http.StatusUnauthorized, httputil.CodeUnauthorized, "missing "+PrincipalHeader+" header")
		return
	}

	var req issueRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.OrgID == nil || req.FileID == nil {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, "orgId and fileId are required")
		return
	}

	token, err := h.service.IssueDownloadToken(r.Context(), principal, *req.OrgID, *req.FileID)
	if err != nil {
		writeAccessError(w, r, "issue download token", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, token)
}

// handleDownload validates the token and returns the catalog entry of the granted file. The
// content itself is served by the storage layer at Location.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	claims, file, err := h.service.ResolveDownload(r.Context(), chi.URLParam(r, "token"))
	if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenExpired) {
		httputil.WriteError(w, http.StatusUnauthorized, httputil.CodeUnauthorized, err.Error())
		return
	}
	if err != nil {
		writeAccessError(w, r, "resolve download", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, downloadResponse{
		Principal: claims.Principal(),
		OrgID:     claims.OrgID,
		FileID:    claims.FileID,
		Name:      file.Name,
		Size:      file.Size,
		Type:      file.Type,
		Location:  file.Location,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}
