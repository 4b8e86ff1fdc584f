package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"orgregistry/attest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAttestor struct {
	err  error
	resp *Response
	got  *Request
}

func (s *stubAttestor) Attest(_ context.Context, req *Request) (*Response, error) {
	s.got = req
	return s.resp, s.err
}

func serve(t *testing.T, a Attestor, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	reg := prometheus.NewRegistry()
	NewMetrics(reg).observe("issued")
	router := NewRouter(NewHandler(a), reg)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func attestBody(t *testing.T) string {
	t.Helper()
	body, err := json.Marshal(Request{
		OrgID:         4,
		Principal:     alice,
		Root:          attest.Hash{0xaa},
		Proof:         []byte{1, 2},
		PublicWitness: []byte{3},
	})
	require.NoError(t, err)
	return string(body)
}

func TestHandleAttestOK(t *testing.T) {
	a := &stubAttestor{resp: &Response{ProofHash: attest.Hash{1}, Attestation: "YXR0", VerifierID: "v1"}}

	w := serve(t, a, http.MethodPost, "/v1/attestations", attestBody(t))

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, attest.Hash{1}.String(), resp["proofHash"])
	assert.Equal(t, "YXR0", resp["attestation"])

	require.NotNil(t, a.got)
	assert.Equal(t, uint32(4), a.got.OrgID)
	assert.Equal(t, attest.Hash{0xaa}, a.got.Root)
	assert.Equal(t, []byte{1, 2}, a.got.Proof)
}

func TestHandleAttestStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"malformed", fmt.Errorf("%w: bad proof", ErrMalformedRequest), http.StatusBadRequest, "bad_request"},
		{"rejected", fmt.Errorf("%w: pairing check failed", ErrProofRejected), http.StatusUnprocessableEntity, "unprocessable_entity"},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(t, &stubAttestor{err: tc.err}, http.MethodPost, "/v1/attestations", attestBody(t))
			assert.Equal(t, tc.want, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body["error"])
			if tc.want == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), "disk on fire")
			}
		})
	}
}

func TestHandleAttestRejectsBadJSON(t *testing.T) {
	a := &stubAttestor{}
	for _, body := range []string{"{", `{"orgId":"x"}`, `{"unexpected":1}`, `{"root":"abc"}`} {
		w := serve(t, a, http.MethodPost, "/v1/attestations", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Nil(t, a.got)
}

func TestHealthAndMetrics(t *testing.T) {
	w := serve(t, &stubAttestor{}, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(t, &stubAttestor{}, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte("orgregistry_verifier_attestations_total")))
}
