// Package embedding implements the Embedding module: chunking,
// two-model vector generation, and reranking, all delegated to an MlBridge
// capability the core requires but does not implement. This
// package is stateless with respect to databases; it writes results through
// storage.Coordinator and never opens an environment itself.
package embedding

import (
	"context"

	"github.com/mia-systems/cognitive-core/kv"
	"github.com/mia-systems/cognitive-core/storage"
)

// Candidate is one item rerank scores against a query.
type Candidate struct {
	ID   string
	Text string
}

// Scored is a reranked candidate.
type Scored struct {
	ID    string
	Score float32
}

// MlBridge is the narrow capability boundary between the core and whatever
// ML runtime actually hosts the models: "generate_embedding,
// extract_entities, summarize, rerank, health_check". The core ships no
// implementation of this interface; callers (the CLI, a server binary)
// supply one backed by a real model-serving process.
type MlBridge interface {
	GenerateEmbedding(ctx context.Context, res storage.Resolution, text string) ([]float32, error)
	ExtractEntities(ctx context.Context, text string) ([]ExtractedEntity, error)
	Summarize(ctx context.Context, messages []string) (string, error)
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error)
	HealthCheck(ctx context.Context) bool
}

// ExtractedEntity is MlBridge.ExtractEntities' raw result, before the
// weaver's Entity Linker upserts it into knowledge.entities.
type ExtractedEntity struct {
	Label      string
	Type       string
	Confidence float32
}

// mapMlBridgeErr wraps any MlBridge failure as DbError::Other, matching the
// convention that all storage-adjacent failures map to one error kind.
func mapMlBridgeErr(msg string, err error) error {
	if err == nil {
		return nil
	}
	return kv.Wrap(kv.KindOther, msg, err)
}
