package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"octo/internal/domain"
)

const resolvePath = "/resolve"

// HTTPResolver asks an external entity-resolution service which local entities a received document refers to.
type HTTPResolver struct {
	endpoint   string
	httpClient *http.Client
}

func NewHTTPResolver(endpoint string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPResolver{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type resolveRequest struct {
	DocumentRID string          `json:"document_rid"`
	RIDType     string          `json:"rid_type"`
	SenderNode  string          `json:"sender_node"`
	Contents    json.RawMessage `json:"contents,omitempty"`
}

type resolveResponse struct {
	Matches []domain.EntityMatch `json:"matches"`
}

func (r *HTTPResolver) Resolve(ctx context.Context, doc domain.SharedDocument) ([]domain.EntityMatch, error) {
	if r == nil || r.endpoint == "" {
		return nil, errors.New("resolver endpoint is required")
	}
	body, err := json.Marshal(resolveRequest{
		DocumentRID: doc.DocumentRID,
		RIDType:     domain.RIDType(doc.DocumentRID),
		SenderNode:  doc.SenderNode,
		Contents:    doc.Contents,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+resolvePath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolver failed: status %d", resp.StatusCode)
	}
	var out resolveResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode resolver response: %w", err)
	}
	return out.Matches, nil
}
