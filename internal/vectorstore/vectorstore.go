package vectorstore

import (
	"context"
	"fmt"

	"github.com/yungbote/mnemosyne-backend/internal/logger"
)

// Point is one vector plus its payload. ID is a UUID string.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search hit: the payload "text" field, the similarity
// score, and the full payload for callers that need more.
type ScoredPoint struct {
	Text    string
	Score   float64
	Payload map[string]any
}

// Store is the shared vector driver used by the Library and Journal
// pipelines. Query results are ordered by descending score; filters use
// the driver's mini-language (scalar equality, $eq/$ne/$in per field,
// $and/$or/$not at the top level).
type Store interface {
	SetupCollection(ctx context.Context, name string, dim int) error
	AddPoints(ctx context.Context, name string, points []Point) (int, error)
	QueryPoints(ctx context.Context, name string, vector []float32, filter map[string]any, limit int) ([]ScoredPoint, error)
	Count(ctx context.Context, name string, filter map[string]any) (int, error)
	DeleteByFilter(ctx context.Context, name string, filter map[string]any) error
	DeleteCollection(ctx context.Context, name string) error
	ClearCollection(ctx context.Context, name string, dim int) error
	ListCollections(ctx context.Context) ([]string, error)
	Mode() string
}

// New selects the store mode. With usePersistent set it probes the Qdrant
// server and degrades to the embedded store only on connection-class
// failures; any other probe error is fatal so misconfiguration does not
// silently lose data.
func New(usePersistent bool, host string, port int, log *logger.Logger) (Store, error) {
	if !usePersistent {
		log.Info("vector store using embedded mode")
		return NewEmbedded(log), nil
	}

	remote, err := NewRemote(fmt.Sprintf("http://%s:%d", host, port), log)
	if err != nil {
		if IsConnectionError(err) {
			log.Warn("qdrant server unreachable, falling back to embedded vector store",
				"host", host, "port", port, "error", err)
			return NewEmbedded(log), nil
		}
		return nil, err
	}
	return remote, nil
}
