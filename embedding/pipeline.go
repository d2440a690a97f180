package embedding

import (
	"context"
	"fmt"

	"github.com/mia-systems/cognitive-core/indexing"
	"github.com/mia-systems/cognitive-core/storage"
)

// Dimensions for the two resolutions.
const (
	DimFast     = 384
	DimAccurate = 1536
)

// Pipeline ties an MlBridge implementation to a storage.Coordinator and the
// in-memory HNSW indexes for each resolution, implementing embed_fast,
// embed_accurate, and rerank.
type Pipeline struct {
	bridge   MlBridge
	coord    *storage.Coordinator
	fastIdx  *indexing.HNSW
	accIdx   *indexing.HNSW
	modelVer string
}

// NewPipeline constructs a Pipeline. fastIdx and accIdx are typically
// produced once at startup via indexing.RebuildHNSW and kept in memory for
// the lifetime of the process.
func NewPipeline(bridge MlBridge, coord *storage.Coordinator, fastIdx, accIdx *indexing.HNSW, modelVersion string) *Pipeline {
	return &Pipeline{bridge: bridge, coord: coord, fastIdx: fastIdx, accIdx: accIdx, modelVer: modelVersion}
}

// FastIndex and AccurateIndex expose the pipeline's HNSW indexes so the
// query engine can search them directly.
func (p *Pipeline) FastIndex() *indexing.HNSW     { return p.fastIdx }
func (p *Pipeline) AccurateIndex() *indexing.HNSW { return p.accIdx }

// EmbedFast chunks text, embeds each chunk with the fast model, mean-pools
// and L2-normalizes the result, writes it through storage, and updates the
// fast HNSW index — the embed_fast primitive
func (p *Pipeline) EmbedFast(ctx context.Context, sourceID, text string) (*storage.Embedding, error) {
	return p.embed(ctx, storage.ResolutionFast384, p.fastIdx, sourceID, text)
}

// EmbedAccurate is embed_fast's counterpart for the accurate 1536-d model.
func (p *Pipeline) EmbedAccurate(ctx context.Context, sourceID, text string) (*storage.Embedding, error) {
	return p.embed(ctx, storage.ResolutionAccurate1536, p.accIdx, sourceID, text)
}

func (p *Pipeline) embed(ctx context.Context, res storage.Resolution, idx *indexing.HNSW, sourceID, text string) (*storage.Embedding, error) {
	chunks := Chunk(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("embedding: empty text for source %s", sourceID)
	}

	vectors := make([][]float32, 0, len(chunks))
	for _, chunk := range chunks {
		// Cooperative cancellation between chunks
		// suspension-point enumeration ("between chunks").
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		v, err := p.bridge.GenerateEmbedding(ctx, res, chunk)
		if err != nil {
			return nil, mapMlBridgeErr("generate_embedding", err)
		}
		vectors = append(vectors, v)
	}

	pooled := MeanPool(vectors)

	emb, err := p.coord.PutEmbedding(&storage.Embedding{
		SourceID:     sourceID,
		Resolution:   res,
		Vector:       pooled,
		ModelVersion: p.modelVer,
	})
	if err != nil {
		return nil, err
	}

	if idx != nil {
		if err := idx.Insert(sourceID, pooled); err != nil {
			return nil, err
		}
	}
	return emb, nil
}

// EmbedQuery embeds text with both models without writing anything to
// storage or either HNSW index, for query-time use where the query string itself is
// never a stored entity.
func (p *Pipeline) EmbedQuery(ctx context.Context, text string) (fast, accurate []float32, err error) {
	chunks := Chunk(text)
	if len(chunks) == 0 {
		return nil, nil, fmt.Errorf("embedding: empty query text")
	}

	fastVecs := make([][]float32, 0, len(chunks))
	accVecs := make([][]float32, 0, len(chunks))
	for _, chunk := range chunks {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		fv, err := p.bridge.GenerateEmbedding(ctx, storage.ResolutionFast384, chunk)
		if err != nil {
			return nil, nil, mapMlBridgeErr("generate_embedding", err)
		}
		fastVecs = append(fastVecs, fv)
		av, err := p.bridge.GenerateEmbedding(ctx, storage.ResolutionAccurate1536, chunk)
		if err != nil {
			return nil, nil, mapMlBridgeErr("generate_embedding", err)
		}
		accVecs = append(accVecs, av)
	}
	return MeanPool(fastVecs), MeanPool(accVecs), nil
}

// Rerank scores candidates against query by fusing cosine similarity
// against the accurate embedding (when accIdx has a vector for the
// candidate) with the bridge's own reranker score — the two-resolution
// fusion feeding query Stage 2b. queryAccurateVec is the query's accurate
// (1536-d) embedding, typically EmbedQuery's second return value; it may be
// nil if the caller only has a fast vector, in which case scoring falls
// back to the bridge alone.
func (p *Pipeline) Rerank(ctx context.Context, query string, queryAccurateVec []float32, candidates []Candidate) ([]Scored, error) {
	bridgeScored, err := p.bridge.Rerank(ctx, query, candidates)
	if err != nil {
		return nil, mapMlBridgeErr("rerank", err)
	}
	bridgeByID := make(map[string]float32, len(bridgeScored))
	for _, s := range bridgeScored {
		bridgeByID[s.ID] = s.Score
	}

	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		accSim, hasAcc := float32(0), false
		if p.accIdx != nil && len(queryAccurateVec) > 0 {
			accSim, hasAcc = p.accIdx.Similarity(c.ID, queryAccurateVec)
		}
		brScore, hasBr := bridgeByID[c.ID]

		var score float32
		switch {
		case hasAcc && hasBr:
			score = 0.5*accSim + 0.5*brScore
		case hasAcc:
			score = accSim
		default:
			score = brScore
		}
		out = append(out, Scored{ID: c.ID, Score: score})
	}
	sortScoredDesc(out)
	return out, nil
}

func sortScoredDesc(s []Scored) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].Score > s[j-1].Score; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
