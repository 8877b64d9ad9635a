package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/mnemosyne-backend/internal/apperr"
	"github.com/yungbote/mnemosyne-backend/internal/logger"
)

// Embedder turns text into fixed-dimension vectors. Implementations must
// return one vector per input, in input order.
type Embedder interface {
	Encode(ctx context.Context, inputs []string) ([][]float32, error)
	Dim() int
	Model() string
}

// Config selects the model and target for one embedding role.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Dim     int
	Timeout time.Duration
}

// openAIEmbedder calls an OpenAI-compatible /v1/embeddings endpoint.
type openAIEmbedder struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client
}

func NewOpenAI(cfg Config, baseLog *logger.Logger) (Embedder, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, apperr.Validation("embedder_init", "embedding base URL is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, apperr.Validation("embedder_init", "embedding model is required")
	}
	if cfg.Dim <= 0 {
		return nil, apperr.Validation("embedder_init", fmt.Sprintf("invalid embedding dim %d", cfg.Dim))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &openAIEmbedder{
		log:  baseLog.With("component", "Embedder", "model", cfg.Model),
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}, nil
}

func (e *openAIEmbedder) Dim() int      { return e.cfg.Dim }
func (e *openAIEmbedder) Model() string { return e.cfg.Model }

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (e *openAIEmbedder) Encode(ctx context.Context, inputs []string) ([][]float32, error) {
	const op = "embed"
	if len(inputs) == 0 {
		return nil, nil
	}
	for i, input := range inputs {
		if strings.TrimSpace(input) == "" {
			return nil, apperr.Validation(op, fmt.Sprintf("input %d is empty", i))
		}
	}

	payload, err := json.Marshal(embeddingsRequest{Model: e.cfg.Model, Input: inputs})
	if err != nil {
		return nil, apperr.New(apperr.CodeEmbeddingFailed, op, "encode request failed", err)
	}

	url := strings.TrimRight(e.cfg.BaseURL, "/") + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.New(apperr.CodeEmbeddingFailed, op, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.New(apperr.CodeTimeout, op, "embedding request cancelled", err)
		}
		return nil, apperr.New(apperr.CodeEmbeddingFailed, op, "embedding request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, apperr.New(apperr.CodeEmbeddingFailed, op, "read response failed", err)
	}

	var decoded embeddingsResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, apperr.New(apperr.CodeEmbeddingFailed, op,
			fmt.Sprintf("decode response failed (status=%d)", resp.StatusCode), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("embedding API returned status=%d", resp.StatusCode)
		if decoded.Error != nil {
			msg = fmt.Sprintf("%s: %s", msg, decoded.Error.Message)
		}
		return nil, apperr.New(apperr.CodeEmbeddingFailed, op, msg, nil)
	}
	if len(decoded.Data) != len(inputs) {
		return nil, apperr.New(apperr.CodeEmbeddingFailed, op,
			fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(decoded.Data)), nil)
	}

	// The API may reorder results; Index maps each back to its input.
	out := make([][]float32, len(inputs))
	for _, item := range decoded.Data {
		if item.Index < 0 || item.Index >= len(inputs) {
			return nil, apperr.New(apperr.CodeEmbeddingFailed, op,
				fmt.Sprintf("embedding index %d out of range", item.Index), nil)
		}
		if len(item.Embedding) != e.cfg.Dim {
			return nil, apperr.New(apperr.CodeEmbeddingFailed, op,
				fmt.Sprintf("embedding %d has dim %d, expected %d", item.Index, len(item.Embedding), e.cfg.Dim), nil)
		}
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		out[item.Index] = vec
	}
	for i, vec := range out {
		if vec == nil {
			return nil, apperr.New(apperr.CodeEmbeddingFailed, op,
				fmt.Sprintf("missing embedding for input %d", i), nil)
		}
	}
	return out, nil
}
