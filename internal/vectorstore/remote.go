package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/mnemosyne-backend/internal/logger"
)

const maxErrorBodyBytes = 1024

// remoteStore talks to a Qdrant server over its REST surface. Collections
// are single-vector with cosine distance.
type remoteStore struct {
	log     *logger.Logger
	baseURL string
	http    *http.Client
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type qdrantHit struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

// NewRemote connects to a Qdrant server and verifies it is reachable.
func NewRemote(baseURL string, log *logger.Logger) (Store, error) {
	s := &remoteStore{
		log:     log.With("component", "QdrantVectorStore"),
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	if err := s.probe(context.Background()); err != nil {
		return nil, err
	}
	s.log.Info("connected to qdrant server", "url", s.baseURL)
	return s, nil
}

func (s *remoteStore) Mode() string { return "remote" }

func (s *remoteStore) probe(ctx context.Context) error {
	const op = "bootstrap_verify"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/collections", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build probe request failed", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return classifyCallError(op, "qdrant probe failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant probe returned status=%d", resp.StatusCode),
		}
	}
	return nil
}

func (s *remoteStore) SetupCollection(ctx context.Context, name string, dim int) error {
	const op = "setup_collection"
	if dim <= 0 {
		return opErr(op, OperationErrorValidation, fmt.Sprintf("invalid vector dim %d", dim), nil)
	}

	// Existence check keeps the call idempotent.
	err := s.doJSON(ctx, op, http.MethodGet, "/collections/"+name, nil, nil)
	if err == nil {
		return nil
	}
	var typed *OperationError
	if !asOperationError(err, &typed) || typed.StatusCode != http.StatusNotFound {
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	return s.doJSON(ctx, op, http.MethodPut, "/collections/"+name, body, nil)
}

func (s *remoteStore) AddPoints(ctx context.Context, name string, points []Point) (int, error) {
	const op = "add_points"
	if len(points) == 0 {
		return 0, nil
	}
	encoded := make([]map[string]any, 0, len(points))
	for _, p := range points {
		if strings.TrimSpace(p.ID) == "" {
			return 0, opErr(op, OperationErrorValidation, "point id is required", nil)
		}
		if len(p.Vector) == 0 {
			return 0, opErr(op, OperationErrorValidation, fmt.Sprintf("point %q has empty vector", p.ID), nil)
		}
		encoded = append(encoded, map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}
	req := map[string]any{"points": encoded}
	if err := s.doJSON(ctx, op, http.MethodPut, "/collections/"+name+"/points?wait=true", req, nil); err != nil {
		return 0, err
	}
	return len(points), nil
}

func (s *remoteStore) QueryPoints(ctx context.Context, name string, vector []float32, filter map[string]any, limit int) ([]ScoredPoint, error) {
	const op = "query_points"
	if len(vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector is required", nil)
	}
	if limit <= 0 {
		limit = 10
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if len(filter) > 0 {
		translated, err := translateFilter(filter)
		if err != nil {
			return nil, err
		}
		req["filter"] = translated
	}

	var hits []qdrantHit
	if err := s.doJSON(ctx, op, http.MethodPost, "/collections/"+name+"/points/search", req, &hits); err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, 0, len(hits))
	for _, hit := range hits {
		text, _ := hit.Payload["text"].(string)
		out = append(out, ScoredPoint{Text: text, Score: hit.Score, Payload: hit.Payload})
	}
	return out, nil
}

func (s *remoteStore) Count(ctx context.Context, name string, filter map[string]any) (int, error) {
	const op = "count"
	req := map[string]any{"exact": true}
	if len(filter) > 0 {
		translated, err := translateFilter(filter)
		if err != nil {
			return 0, err
		}
		req["filter"] = translated
	}
	var result struct {
		Count int `json:"count"`
	}
	if err := s.doJSON(ctx, op, http.MethodPost, "/collections/"+name+"/points/count", req, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

func (s *remoteStore) DeleteByFilter(ctx context.Context, name string, filter map[string]any) error {
	const op = "delete_by_filter"
	if len(filter) == 0 {
		return opErr(op, OperationErrorValidation, "refusing to delete with empty filter", nil)
	}
	translated, err := translateFilter(filter)
	if err != nil {
		return err
	}
	req := map[string]any{"filter": translated}
	return s.doJSON(ctx, op, http.MethodPost, "/collections/"+name+"/points/delete?wait=true", req, nil)
}

func (s *remoteStore) DeleteCollection(ctx context.Context, name string) error {
	return s.doJSON(ctx, "delete_collection", http.MethodDelete, "/collections/"+name, nil, nil)
}

func (s *remoteStore) ClearCollection(ctx context.Context, name string, dim int) error {
	if err := s.DeleteCollection(ctx, name); err != nil {
		var typed *OperationError
		if !asOperationError(err, &typed) || typed.StatusCode != http.StatusNotFound {
			return err
		}
	}
	return s.SetupCollection(ctx, name, dim)
}

func (s *remoteStore) ListCollections(ctx context.Context) ([]string, error) {
	var result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := s.doJSON(ctx, "list_collections", http.MethodGet, "/collections", nil, &result); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(result.Collections))
	for _, c := range result.Collections {
		out = append(out, c.Name)
	}
	return out, nil
}

func (s *remoteStore) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := OperationErrorQueryFailed
		if resp.StatusCode == http.StatusNotFound {
			code = OperationErrorNotFound
		}
		return &OperationError{
			Code:       code,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	if out == nil {
		return nil
	}
	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func asOperationError(err error, target **OperationError) bool {
	if err == nil {
		return false
	}
	typed, ok := err.(*OperationError)
	if !ok {
		return false
	}
	*target = typed
	return true
}
