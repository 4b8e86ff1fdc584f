package indexer

import (
	"net/http"
	"net/url"
	"strconv"

	"orgregistry/internal/platform/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handler serves read-only queries over the indexed registry state.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// Register registers the indexer routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/principals/{principal}/orgs", h.handleMemberships)
	r.Get("/v1/principals/{principal}/commitments", h.handleCommitments)
	r.Get("/v1/orgs/{orgId}", h.handleOrg)
}

type membershipsResponse struct {
	Principal     string       `json:"principal"`
	Organizations []Membership `json:"organizations"`
}

type commitmentsResponse struct {
	Principal   string   `json:"principal"`
	Commitments []string `json:"commitments"`
}

// principalParam unescapes the path segment; X.509 principals carry characters clients encode.
func principalParam(r *http.Request) (string, bool) {
	p, err := url.PathUnescape(chi.URLParam(r, "principal"))
	if err != nil || p == "" {
		return "", false
	}
	return p, true
}

func (h *Handler) handleMemberships(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalParam(r)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, "invalid principal")
		return
	}
	orgs, err := h.store.Memberships(r.Context(), principal)
	if err != nil {
		logger.Errorf("request %s: read memberships: %v", middleware.GetReqID(r.Context()), err)
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, membershipsResponse{Principal: principal, Organizations: orgs})
}

func (h *Handler) handleCommitments(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalParam(r)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, "invalid principal")
		return
	}
	commitments, err := h.store.Commitments(r.Context(), principal)
	if err != nil {
		logger.Errorf("request %s: read commitments: %v", middleware.GetReqID(r.Context()), err)
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, commitmentsResponse{Principal: principal, Commitments: commitments})
}

func (h *Handler) handleOrg(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "orgId"), 10, 32)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, "orgId must be an unsigned 32-bit integer")
		return
	}
	rec, found, err := h.store.Org(r.Context(), uint32(id))
	if err != nil {
		logger.Errorf("request %s: read organization %d: %v", middleware.GetReqID(r.Context()), id, err)
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "")
		return
	}
	if !found {
		httputil.WriteError(w, http.StatusNotFound, httputil.CodeNotFound, "no root has been indexed for this organization")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}
