package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client calls a remote verifier service. It implements Attestor.
type Client struct {
	baseURL    string
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 30 * time.Second
			return backoff.WithMaxRetries(b, 4)
		},
	}
}

type remoteError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// Attest posts req and maps 400 and 422 answers back to ErrMalformedRequest and ErrProofRejected.
// Transport failures and 5xx answers are retried.
func (c *Client) Attest(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var out *Response
	op := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/attestations", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBody))
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			out = &Response{}
			if err := json.Unmarshal(raw, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode attestation: %w", err))
			}
			return nil
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("verifier answered %s", resp.Status)
		}

		var e remoteError
		_ = json.Unmarshal(raw, &e)
		switch resp.StatusCode {
		case http.StatusBadRequest:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrMalformedRequest, e.Description))
		case http.StatusUnprocessableEntity:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrProofRejected, e.Description))
		default:
			return backoff.Permanent(fmt.Errorf("verifier answered %s: %s", resp.Status, e.Error))
		}
	}

	err = backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), func(err error, next time.Duration) {
		logger.Warningf("attestation request failed, retrying in %s: %v", next, err)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
