package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"orgregistry/internal/platform/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRequestBody = 64 << 10

// Attestor is the part of Service the HTTP layer needs.
type Attestor interface {
	Attest(ctx context.Context, req *Request) (*Response, error)
}

// Handler serves the attestation API.
type Handler struct {
	attestor Attestor
	timeout  time.Duration
}

func NewHandler(attestor Attestor) *Handler {
	return &Handler{attestor: attestor, timeout: 30 * time.Second}
}

// Register registers the verifier routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/attestations", h.handleAttest)
}

// NewRouter mounts the API next to /healthz and /metrics.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	h.Register(r)
	return r
}

func (h *Handler) handleAttest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		logger.Debugf("request %s: invalid body: %v", middleware.GetReqID(ctx), err)
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, "invalid request body")
		return
	}

	resp, err := h.attestor.Attest(ctx, &req)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, resp)
	case errors.Is(err, ErrMalformedRequest):
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, err.Error())
	case errors.Is(err, ErrProofRejected):
		httputil.WriteError(w, http.StatusUnprocessableEntity, httputil.CodeUnprocessable, err.Error())
	default:
		logger.Errorf("request %s: attestation failed: %v", middleware.GetReqID(ctx), err)
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "")
	}
}
