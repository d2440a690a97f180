package indexing

import (
	"context"

	"github.com/mia-systems/cognitive-core/storage"
)

// RebuildHNSW reconstructs a vector index from storage's embeddings
// database at the given resolution and dimension,
// invariant that the HNSW graph need not survive corruption because it is
// always regenerable from the vectors table. Called by the `miacore
// reconcile` command and by the function NewRebuildDispatcher returns.
func RebuildHNSW(ctx context.Context, coord *storage.Coordinator, res storage.Resolution, dim int, cfg HNSWConfig) (*HNSW, error) {
	log := cfg.withDefaults().Logger
	embeddings, err := coord.ListEmbeddings(ctx, res)
	if err != nil {
		return nil, err
	}

	idx := NewHNSW(dim, cfg)
	for _, e := range embeddings {
		if len(e.Vector) != dim {
			log.WithField("source_id", e.SourceID).Warn("skipping embedding with mismatched dimension during rebuild")
			continue
		}
		if err := idx.Insert(e.SourceID, e.Vector); err != nil {
			log.WithError(err).WithField("source_id", e.SourceID).Warn("skipping embedding during rebuild")
			continue
		}
	}
	log.WithField("count", idx.Len()).WithField("resolution", res).Info("rebuilt HNSW index from vectors table")
	return idx, nil
}

// RebuildFromSourceFunc matches the scheduler's RebuildFromSource(db) task
// signature (spec's corrupt-table testable property): rebuild whatever
// derived index db needs, logging progress via the HNSWConfig's Logger.
type RebuildFromSourceFunc func(ctx context.Context, db string) error

// NewRebuildDispatcher wires the database-name-keyed rebuild functions a
// scheduler task handler needs; structural and graph indexes are rebuilt in
// place by storage (they are colocated with their source tables and share
// its transactions), so only the vector index needs an out-of-process
// rebuild step here.
func NewRebuildDispatcher(coord *storage.Coordinator, fastDim, accurateDim int, cfg HNSWConfig, onRebuilt func(res storage.Resolution, idx *HNSW)) RebuildFromSourceFunc {
	return func(ctx context.Context, db string) error {
		if db != storage.DBEmbeddings {
			return nil
		}
		fast, err := RebuildHNSW(ctx, coord, storage.ResolutionFast384, fastDim, cfg)
		if err != nil {
			return err
		}
		onRebuilt(storage.ResolutionFast384, fast)

		accurate, err := RebuildHNSW(ctx, coord, storage.ResolutionAccurate1536, accurateDim, cfg)
		if err != nil {
			return err
		}
		onRebuilt(storage.ResolutionAccurate1536, accurate)
		return nil
	}
}
