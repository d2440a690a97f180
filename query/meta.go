package query

import (
	"encoding/json"
	"time"

	"github.com/mia-systems/cognitive-core/kv"
	"github.com/mia-systems/cognitive-core/storage"
)

// PerformanceStat is one record written to meta.performance_stats after
// every query: "actual stages touched, wall time, result count, and (if
// feedback arrives later) user reaction".
type PerformanceStat struct {
	ID          string    `json:"id"`
	Semantic    string    `json:"semantic"`
	StagesRun   []string  `json:"stages_run"`
	WallTimeMS  int64     `json:"wall_time_ms"`
	ResultCount int       `json:"result_count"`
	Cancelled   bool      `json:"cancelled"`
	Incomplete  bool      `json:"incomplete"`
	Downshifted bool      `json:"downshifted"`
	Reaction    string    `json:"reaction,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// recordPerformanceStat writes one PerformanceStat, keyed by id, into
// meta.performance_stats — the signal the Stage 0 meta-router trains on.
func recordPerformanceStat(coord *storage.Coordinator, id string, stat PerformanceStat) error {
	stat.ID = id
	data, err := json.Marshal(stat)
	if err != nil {
		return err
	}
	return coord.Meta().BeginWrite(func(tx *kv.WriteTxn) error {
		return tx.Put(storage.TablePerfStats, id, data)
	})
}
