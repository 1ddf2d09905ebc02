// Package recognizer resolves face embedding references to people. The
// matching itself happens in an external service.
package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/service"
)

const identifyPath = "/v1/identify"

// HTTP calls a recognition service with POST /v1/identify.
//
//	request:  {"embedding_ref": "..."}
//	response: {"matched": true, "person_id": "..."}
//
// A 404 is treated as no match.
type HTTP struct {
	baseURL string
	client  *http.Client
}

var _ service.Recognizer = (*HTTP)(nil)

// NewHTTP builds a client for baseURL. timeout bounds each call on top of
// the router's own deadline; 0 leaves it to the caller's context.
func NewHTTP(baseURL string, timeout time.Duration) (*HTTP, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("recognizer: base url required")
	}
	return &HTTP{baseURL: baseURL, client: &http.Client{Timeout: timeout}}, nil
}

type identifyRequest struct {
	EmbeddingRef string `json:"embedding_ref"`
}

type identifyResponse struct {
	Matched  bool   `json:"matched"`
	PersonID string `json:"person_id"`
}

func (h *HTTP) Identify(ctx context.Context, embeddingRef string) (domain.PersonID, bool, error) {
	body, err := json.Marshal(identifyRequest{EmbeddingRef: embeddingRef})
	if err != nil {
		return "", false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+identifyPath, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build identify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("identify: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", false, nil
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", false, fmt.Errorf("identify: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out identifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return "", false, fmt.Errorf("decode identify response: %w", err)
	}
	if !out.Matched || out.PersonID == "" {
		return "", false, nil
	}
	return domain.PersonID(out.PersonID), true, nil
}
