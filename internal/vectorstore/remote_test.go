package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/yungbote/mnemosyne-backend/internal/logger"
)

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newTestRemote(fn roundTripFunc) *remoteStore {
	return &remoteStore{
		log:     logger.NewNop(),
		baseURL: "http://qdrant.test:6333",
		http:    &http.Client{Transport: fn},
	}
}

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]any{"result": result, "status": "ok", "time": 0.001})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func statusResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(`{"status":{"error":"nope"}}`))),
	}
}

func TestRemoteAddPointsRequestShape(t *testing.T) {
	var captured map[string]any
	s := newTestRemote(func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPut {
			t.Fatalf("method: want=%s got=%s", http.MethodPut, r.Method)
		}
		if r.URL.Path != "/collections/library_docs/points" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if r.URL.RawQuery != "wait=true" {
			t.Fatalf("query: want=%q got=%q", "wait=true", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	n, err := s.AddPoints(context.Background(), "library_docs", []Point{
		{ID: "a", Vector: []float32{1, 2}, Payload: map[string]any{"text": "alpha"}},
		{ID: "b", Vector: []float32{3, 4}, Payload: map[string]any{"text": "beta"}},
	})
	if err != nil {
		t.Fatalf("AddPoints: %v", err)
	}
	if n != 2 {
		t.Fatalf("stored count: want=2 got=%d", n)
	}

	points, ok := captured["points"].([]any)
	if !ok || len(points) != 2 {
		t.Fatalf("points: got=%v", captured["points"])
	}
	first := points[0].(map[string]any)
	if first["id"] != "a" {
		t.Fatalf("point id: want=a got=%v", first["id"])
	}
	payload := first["payload"].(map[string]any)
	if payload["text"] != "alpha" {
		t.Fatalf("payload text: got=%v", payload["text"])
	}
}

func TestRemoteAddPointsRejectsEmptyVector(t *testing.T) {
	s := newTestRemote(func(r *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	_, err := s.AddPoints(context.Background(), "c", []Point{{ID: "a"}})
	var typed *OperationError
	if !asOperationError(err, &typed) || typed.Code != OperationErrorValidation {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestRemoteQueryPointsDecodesHits(t *testing.T) {
	s := newTestRemote(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/journal_sessions/points/search" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req["with_payload"] != true {
			t.Fatalf("with_payload: got=%v", req["with_payload"])
		}
		if req["limit"] != float64(5) {
			t.Fatalf("limit: got=%v", req["limit"])
		}
		return okResponse(t, []map[string]any{
			{"id": "x", "score": 0.92, "payload": map[string]any{"text": "first", "session_id": "s1"}},
			{"id": "y", "score": 0.48, "payload": map[string]any{"text": "second", "session_id": "s1"}},
		}), nil
	})

	hits, err := s.QueryPoints(context.Background(), "journal_sessions", []float32{0.1, 0.2}, nil, 5)
	if err != nil {
		t.Fatalf("QueryPoints: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits: want=2 got=%d", len(hits))
	}
	if hits[0].Text != "first" || hits[0].Score != 0.92 {
		t.Fatalf("hit[0]: got=%+v", hits[0])
	}
	if hits[1].Payload["session_id"] != "s1" {
		t.Fatalf("hit[1] payload: got=%+v", hits[1].Payload)
	}
}

func TestRemoteQueryPointsTranslatesFilter(t *testing.T) {
	var captured map[string]any
	s := newTestRemote(func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, []map[string]any{}), nil
	})

	_, err := s.QueryPoints(context.Background(), "c", []float32{1}, map[string]any{"session_id": "s9"}, 3)
	if err != nil {
		t.Fatalf("QueryPoints: %v", err)
	}
	filter, ok := captured["filter"].(map[string]any)
	if !ok {
		t.Fatalf("filter missing: %v", captured)
	}
	must := filter["must"].([]any)
	cond := must[0].(map[string]any)
	if cond["key"] != "session_id" {
		t.Fatalf("filter key: got=%v", cond["key"])
	}
}

func TestRemoteDeleteByFilterRefusesEmptyFilter(t *testing.T) {
	s := newTestRemote(func(r *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	err := s.DeleteByFilter(context.Background(), "c", nil)
	var typed *OperationError
	if !asOperationError(err, &typed) || typed.Code != OperationErrorValidation {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestRemoteCountReadsResult(t *testing.T) {
	s := newTestRemote(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/c/points/count" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		return okResponse(t, map[string]any{"count": 7}), nil
	})
	n, err := s.Count(context.Background(), "c", nil)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 7 {
		t.Fatalf("count: want=7 got=%d", n)
	}
}

func TestRemoteSetupCollectionSkipsExisting(t *testing.T) {
	var calls []string
	s := newTestRemote(func(r *http.Request) (*http.Response, error) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		return okResponse(t, map[string]any{"status": "green"}), nil
	})
	if err := s.SetupCollection(context.Background(), "c", 4); err != nil {
		t.Fatalf("SetupCollection: %v", err)
	}
	if len(calls) != 1 || calls[0] != "GET /collections/c" {
		t.Fatalf("calls: got=%v", calls)
	}
}

func TestRemoteSetupCollectionCreatesMissing(t *testing.T) {
	var calls []string
	s := newTestRemote(func(r *http.Request) (*http.Response, error) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodGet {
			return statusResponse(http.StatusNotFound), nil
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		vectors := req["vectors"].(map[string]any)
		if vectors["size"] != float64(4) || vectors["distance"] != "Cosine" {
			t.Fatalf("vectors config: got=%v", vectors)
		}
		return okResponse(t, true), nil
	})
	if err := s.SetupCollection(context.Background(), "c", 4); err != nil {
		t.Fatalf("SetupCollection: %v", err)
	}
	want := []string{"GET /collections/c", "PUT /collections/c"}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Fatalf("calls: want=%v got=%v", want, calls)
	}
}

func TestRemoteTransportErrorIsConnectionError(t *testing.T) {
	s := newTestRemote(func(r *http.Request) (*http.Response, error) {
		return nil, fmt.Errorf("dial tcp: connection refused")
	})
	_, err := s.ListCollections(context.Background())
	if !IsConnectionError(err) {
		t.Fatalf("want connection-class error, got %v", err)
	}
}

func TestRemoteServerErrorIsNotConnectionError(t *testing.T) {
	s := newTestRemote(func(r *http.Request) (*http.Response, error) {
		return statusResponse(http.StatusBadRequest), nil
	})
	_, err := s.ListCollections(context.Background())
	if err == nil {
		t.Fatal("want error")
	}
	if IsConnectionError(err) {
		t.Fatalf("bad request misclassified as connection error: %v", err)
	}
}
