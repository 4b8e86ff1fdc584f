package catalog

import (
	"encoding/json"
	"errors"
	"net/http"

	"orgregistry/internal/platform/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxRequestBody = 256 << 10

// Handler serves the catalog. Writes are limited to the organization admin recorded on the ledger.
type Handler struct {
	store  Store
	admins Admins
}

func NewHandler(store Store, admins Admins) *Handler {
	return &Handler{store: store, admins: admins}
}

// Register registers the catalog routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/catalog/orgs", h.handleListOrgs)
	r.Get("/v1/catalog/orgs/{orgId}", h.handleGetOrg)
	r.Put("/v1/catalog/orgs/{orgId}", h.handlePutOrg)
	r.Post("/v1/catalog/orgs/{orgId}/join", h.handleJoin)
	r.Get("/v1/catalog/orgs/{orgId}/members", h.handleMembers)
	r.Put("/v1/catalog/orgs/{orgId}/files/{fileId}", h.handlePutFile)
}

// orgView is what non-admins see; the pre-approved list stays private.
type orgView struct {
	OrgID       uint32 `json:"orgId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type orgsResponse struct {
	Orgs []orgView `json:"orgs"`
}

type orgRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PreApproved []string `json:"preApproved"`
}

type fileRequest struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
	Location string `json:"location"`
}

type joinResponse struct {
	OrgID  uint32 `json:"orgId"`
	Joined bool   `json:"joined"` // False when the principal had already joined
}

type membersResponse struct {
	OrgID   uint32   `json:"orgId"`
	Members []string `json:"members"`
}

func viewOf(o *Org) orgView {
	return orgView{OrgID: o.OrgID, Name: o.Name, Description: o.Description}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, what string, err error) {
	logger.Errorf("request %s: %s: %v", middleware.GetReqID(r.Context()), what, err)
	httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "")
}

func orgParam(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	id, ok := httputil.Uint32Param(r, "orgId")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, "orgId must be an unsigned 32-bit integer")
	}
	return id, ok
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, "malformed request body")
		return false
	}
	return true
}

// requireAdmin writes the error response and returns false unless the caller administers orgID.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request, orgID uint32) bool {
	principal := r.Header.Get(httputil.PrincipalHeader)
	if principal == "" {
		httputil.WriteError(w, http.StatusUnauthorized, httputil.CodeUnauthorized, "missing "+httputil.PrincipalHeader+" header")
		return false
	}
	admin, found, err := h.admins.OrgAdmin(r.Context(), orgID)
	if err != nil {
		h.internalError(w, r, "look up organization admin", err)
		return false
	}
	if !found {
		httputil.WriteError(w, http.StatusNotFound, httputil.CodeNotFound, "organization was never created")
		return false
	}
	if admin != principal {
		httputil.WriteError(w, http.StatusForbidden, httputil.CodeForbidden, "only the organization admin may change the catalog")
		return false
	}
	return true
}

func (h *Handler) handleListOrgs(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.store.Orgs(r.Context())
	if err != nil {
		h.internalError(w, r, "list organizations", err)
		return
	}
	visible := Visible(orgs, r.Header.Get(httputil.PrincipalHeader))
	resp := orgsResponse{Orgs: make([]orgView, 0, len(visible))}
	for i := range visible {
		resp.Orgs = append(resp.Orgs, viewOf(&visible[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetOrg(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(w, r)
	if !ok {
		return
	}
	org, found, err := h.store.Org(r.Context(), orgID)
	if err != nil {
		h.internalError(w, r, "read organization", err)
		return
	}
	if !found || !org.VisibleTo(r.Header.Get(httputil.PrincipalHeader)) {
		httputil.WriteError(w, http.StatusNotFound, httputil.CodeNotFound, ErrUnknownOrg.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewOf(org))
}

func (h *Handler) handlePutOrg(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(w, r)
	if !ok || !h.requireAdmin(w, r, orgID) {
		return
	}
	var req orgRequest
	if !decode(w, r, &req) {
		return
	}
	org := Org{OrgID: orgID, Name: req.Name, Description: req.Description, PreApproved: req.PreApproved}
	if err := org.Validate(); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, err.Error())
		return
	}
	if err := h.store.PutOrg(r.Context(), org); err != nil {
		h.internalError(w, r, "save organization", err)
		return
	}
	logger.Infof("catalog entry of organization %d updated (%d pre-approved)", orgID, len(org.PreApproved))
	httputil.WriteJSON(w, http.StatusOK, org)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(w, r)
	if !ok {
		return
	}
	principal := r.Header.Get(httputil.PrincipalHeader)
	if principal == "" {
		httputil.WriteError(w, http.StatusUnauthorized, httputil.CodeUnauthorized, "missing "+httputil.PrincipalHeader+" header")
		return
	}
	org, found, err := h.store.Org(r.Context(), orgID)
	if err != nil {
		h.internalError(w, r, "read organization", err)
		return
	}
	if !found {
		httputil.WriteError(w, http.StatusNotFound, httputil.CodeNotFound, ErrUnknownOrg.Error())
		return
	}
	if !org.VisibleTo(principal) {
		httputil.WriteError(w, http.StatusForbidden, httputil.CodeForbidden, ErrNotApproved.Error())
		return
	}
	joined, err := h.store.Join(r.Context(), orgID, principal)
	if errors.Is(err, ErrUnknownOrg) {
		httputil.WriteError(w, http.StatusNotFound, httputil.CodeNotFound, ErrUnknownOrg.Error())
		return
	}
	if err != nil {
		h.internalError(w, r, "join organization", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, joinResponse{OrgID: orgID, Joined: joined})
}

// handleMembers lists joined principals in join order, the order orgctl builds the tree in.
func (h *Handler) handleMembers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(w, r)
	if !ok || !h.requireAdmin(w, r, orgID) {
		return
	}
	members, err := h.store.Members(r.Context(), orgID)
	if err != nil {
		h.internalError(w, r, "read members", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, membersResponse{OrgID: orgID, Members: members})
}

func (h *Handler) handlePutFile(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(w, r)
	if !ok {
		return
	}
	fileID, ok := httputil.Uint32Param(r, "fileId")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, "fileId must be an unsigned 32-bit integer")
		return
	}
	if !h.requireAdmin(w, r, orgID) {
		return
	}
	var req fileRequest
	if !decode(w, r, &req) {
		return
	}
	file := File{OrgID: orgID, FileID: fileID, Name: req.Name, Size: req.Size, Type: req.Type, Location: req.Location}
	if err := file.Validate(); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, err.Error())
		return
	}
	if err := h.store.PutFile(r.Context(), file); err != nil {
		h.internalError(w, r, "save file", err)
		return
	}
	logger.Infof("file %d of organization %d catalogued", fileID, orgID)
	httputil.WriteJSON(w, http.StatusOK, file)
}
