package query

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mia-systems/cognitive-core/embedding"
	"github.com/mia-systems/cognitive-core/scheduler"
	"github.com/mia-systems/cognitive-core/storage"
)

// Config tunes the Engine.
type Config struct {
	BudgetMS       int
	DeadlineMS     int
	GraphFrontierCap int
	Logger         *logrus.Logger
}

func (c Config) withDefaults() Config {
	if c.BudgetMS <= 0 {
		c.BudgetMS = 250
	}
	if c.DeadlineMS <= 0 {
		c.DeadlineMS = 2000
	}
	if c.GraphFrontierCap <= 0 {
		c.GraphFrontierCap = 200
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// Engine runs the four-stage query pipeline described,
// fed by a storage.Coordinator, an embedding.Pipeline (for its HNSW
// indexes and query embedding), and a scheduler.Scheduler whose activity
// tracker gets a heartbeat on every query.
type Engine struct {
	cfg   Config
	coord *storage.Coordinator
	pipe  *embedding.Pipeline
	sched *scheduler.Scheduler
}

// New constructs an Engine.
func New(coord *storage.Coordinator, pipe *embedding.Pipeline, sched *scheduler.Scheduler, cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults(), coord: coord, pipe: pipe, sched: sched}
}

// Execute runs q through all four stages, respecting ctx's deadline and
// the engine's configured query_deadline_ms, whichever is tighter.
func (e *Engine) Execute(ctx context.Context, q Query) (*QueryResult, error) {
	start := time.Now()
	statID := uuid.NewString()

	if e.sched != nil {
		e.sched.Activity().Heartbeat()
	}

	deadline := time.Duration(e.cfg.DeadlineMS) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	res := &QueryResult{}
	stagesRun := []string{}

	// Stage 0: meta routing.
	plan, err := route(ctx, e.coord, q)
	if err != nil {
		return nil, err
	}
	q, plan = downshift(q, plan, e.cfg.BudgetMS)
	res.Downshifted = plan.Downshifted
	stagesRun = append(stagesRun, "meta_routing")

	// Stage 1: structural filter.
	candidates, err := e.stage1Structural(ctx, q, plan)
	if err != nil {
		return e.finish(res, stagesRun, start, statID, q, err)
	}
	stagesRun = append(stagesRun, "structural_filter")

	select {
	case <-ctx.Done():
		res.Incomplete = true
		return e.finish(res, stagesRun, start, statID, q, nil)
	default:
	}

	// Stage 2: two-stage semantic search.
	scored, err := e.stage2Semantic(ctx, q, candidates)
	if err != nil {
		return e.finish(res, stagesRun, start, statID, q, err)
	}
	stagesRun = append(stagesRun, "semantic_search")

	select {
	case <-ctx.Done():
		res.Incomplete = true
		res.Results = e.rankOnly(scored, q)
		return e.finish(res, stagesRun, start, statID, q, nil)
	default:
	}

	// Stage 3: graph expansion.
	expanded := scored
	if q.UseKnowledgeGraph {
		expanded, err = e.stage3GraphExpand(ctx, q, scored)
		if err != nil {
			return e.finish(res, stagesRun, start, statID, q, err)
		}
		stagesRun = append(stagesRun, "graph_expansion")
	}

	// Stage 4: rank & reason.
	res.Results = e.stage4Rank(ctx, expanded, q)
	stagesRun = append(stagesRun, "rank_and_reason")

	if err := recordRoute(e.coord, q, plan); err != nil {
		e.cfg.Logger.WithError(err).Warn("query: failed to cache routing plan")
	}
	return e.finish(res, stagesRun, start, statID, q, nil)
}

func (e *Engine) finish(res *QueryResult, stagesRun []string, start time.Time, statID string, q Query, err error) (*QueryResult, error) {
	res.StagesRun = stagesRun
	res.WallTime = time.Since(start)
	if cerr := ctxCancelled(err); cerr {
		res.Cancelled = true
	}

	statErr := recordPerformanceStat(e.coord, statID, PerformanceStat{
		Semantic:    q.Semantic,
		StagesRun:   stagesRun,
		WallTimeMS:  res.WallTime.Milliseconds(),
		ResultCount: len(res.Results),
		Cancelled:   res.Cancelled,
		Incomplete:  res.Incomplete,
		Downshifted: res.Downshifted,
		RecordedAt:  time.Now().UTC(),
	})
	if statErr != nil {
		e.cfg.Logger.WithError(statErr).Warn("query: failed to record performance stat")
	}
	return res, err
}

func ctxCancelled(err error) bool {
	return err == context.Canceled || err == context.DeadlineExceeded
}

// candidateSet is Stage 1's output: message ids eligible for semantic
// search, narrowed by time_scope and context.
type candidateSet struct {
	messageIDs []string
	byID       map[string]*storage.Message
}

// stage1Structural derives a candidate message-id set from time_scope and
// context. RelatedChats resolves related chat ids via
// a 1-hop graph traversal first. Temperature restricts which tiers get
// scanned: a chat currently living outside plan.TiersToOpen is skipped
// without ever paying for a ListMessages read.
func (e *Engine) stage1Structural(ctx context.Context, q Query, plan Plan) (*candidateSet, error) {
	chatIDs, err := e.resolveChatIDs(ctx, q)
	if err != nil {
		return nil, err
	}

	set := &candidateSet{byID: make(map[string]*storage.Message)}
	for _, chatID := range chatIDs {
		tier, err := e.coord.ChatTier(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if !tierAllowed(plan.TiersToOpen, tier) {
			continue
		}

		msgs, err := e.coord.ListMessages(ctx, chatID)
		if err != nil {
			return nil, err
		}
		msgs = e.filterByTimeScope(msgs, q)
		for _, m := range msgs {
			set.messageIDs = append(set.messageIDs, m.ID)
			set.byID[m.ID] = m
		}
	}
	return set, nil
}

func (e *Engine) resolveChatIDs(ctx context.Context, q Query) ([]string, error) {
	switch q.Context.Kind {
	case ContextCurrentChat:
		return []string{q.Context.ChatID}, nil
	case ContextRelatedChats:
		out := []string{q.Context.ChatID}
		edges, err := e.coord.OutgoingEdges(ctx, q.Context.ChatID)
		if err != nil {
			return out, nil // chat-as-graph-node may have no edges; not fatal
		}
		for _, toNode := range edges {
			out = append(out, toNode)
		}
		return out, nil
	case ContextByTopic:
		// MENTIONS edges point from the mentioning message to the entity, so
		// IncomingEdges(topicID) yields message ids; resolve each back to
		// its owning chat via the structural index before handing off to
		// the per-chat message scan below.
		var chatIDs []string
		seen := make(map[string]bool)
		for _, topicID := range q.Context.TopicIDs {
			incoming, err := e.coord.IncomingEdges(ctx, topicID)
			if err != nil {
				continue
			}
			for _, messageID := range incoming {
				chatID, err := e.coord.ChatIDForMessage(ctx, messageID)
				if err != nil {
					continue
				}
				if !seen[chatID] {
					seen[chatID] = true
					chatIDs = append(chatIDs, chatID)
				}
			}
		}
		return chatIDs, nil
	default: // ContextAllChats: caller is expected to pre-resolve, but the
		// core has no "list all chats" index today; return an error rather
		// than run a full scan with no bound.
		return nil, fmt.Errorf("query: AllChats context requires an explicit chat id set")
	}
}

func (e *Engine) filterByTimeScope(msgs []*storage.Message, q Query) []*storage.Message {
	now := time.Now().UTC()
	var from, to time.Time
	switch q.TimeScope {
	case ScopeToday:
		from, to = now.Add(-24*time.Hour), now
	case ScopeLastWeek:
		from, to = now.Add(-7*24*time.Hour), now
	case ScopeLastMonth:
		from, to = now.Add(-30*24*time.Hour), now
	case ScopeLastQuarter:
		from, to = now.Add(-90*24*time.Hour), now
	case ScopeRange:
		from, to = q.RangeFrom, q.RangeTo
	default: // ScopeAllTime
		return msgs
	}
	return storage.MessagesInTimeRange(msgs, from, to)
}

// scoredMessage carries a running score plus which stages contributed,
// feeding Stage 4's reasoning string.
type scoredMessage struct {
	messageID      string
	semanticScore  float32
	graphProximity float32
	timestamp      time.Time
	contributions  []string
	relatedEntity  []string
}

// stage2Semantic embeds semantic with both models, searches the whole fast
// HNSW for its top 3*limit rows, keeps only those among candidates, then
// reranks them with the accurate embedding to produce up to limit*3
// precise scores.
func (e *Engine) stage2Semantic(ctx context.Context, q Query, candidates *candidateSet) ([]scoredMessage, error) {
	if len(candidates.messageIDs) == 0 {
		return nil, nil
	}

	fastVec, accVec, err := e.pipe.EmbedQuery(ctx, q.Semantic)
	if err != nil {
		return nil, err
	}

	fastIdx := e.pipe.FastIndex()
	if fastIdx == nil {
		return nil, fmt.Errorf("query: no fast index configured")
	}

	coarse, err := fastIdx.Search(fastVec, 3*q.Limit, 0)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(candidates.messageIDs))
	for _, id := range candidates.messageIDs {
		allowed[id] = true
	}

	candText := make([]embedding.Candidate, 0, len(coarse))
	candMsgs := make(map[string]*storage.Message, len(coarse))
	for _, hit := range coarse {
		if !allowed[hit.ID] {
			continue
		}
		msg := candidates.byID[hit.ID]
		if msg == nil {
			continue
		}
		candText = append(candText, embedding.Candidate{ID: hit.ID, Text: msg.Text})
		candMsgs[hit.ID] = msg
	}
	if len(candText) == 0 {
		return nil, nil
	}

	reranked, err := e.pipe.Rerank(ctx, q.Semantic, accVec, candText)
	if err != nil {
		return nil, err
	}

	limit3 := q.Limit * 3
	if limit3 <= 0 || limit3 > len(reranked) {
		limit3 = len(reranked)
	}
	out := make([]scoredMessage, 0, limit3)
	for i := 0; i < limit3; i++ {
		var ts time.Time
		if msg := candMsgs[reranked[i].ID]; msg != nil {
			ts = msg.Timestamp
		}
		out = append(out, scoredMessage{
			messageID:     reranked[i].ID,
			semanticScore: reranked[i].Score,
			timestamp:     ts,
			contributions: []string{"semantic_search"},
		})
	}
	return out, nil
}

// stage3GraphExpand expands each result up to search_depth hops in
// knowledge via the graph index, attaching related entities, bounded by a
// configured frontier cap. Independent results expand
// concurrently since they touch disjoint parts of the graph.
func (e *Engine) stage3GraphExpand(ctx context.Context, q Query, scored []scoredMessage) ([]scoredMessage, error) {
	hops := q.SearchDepth.Hops()
	if hops <= 0 {
		return scored, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	out := make([]scoredMessage, len(scored))
	copy(out, scored)

	for i := range out {
		i := i
		g.Go(func() error {
			related, proximity, err := e.expandFrom(ctx, out[i].messageID, hops)
			if err != nil {
				return err
			}
			out[i].relatedEntity = related
			out[i].graphProximity = proximity
			if len(related) > 0 {
				out[i].contributions = append(out[i].contributions, "graph_expansion")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// expandFrom performs a bounded BFS over knowledge's adjacency tables,
// returning entity ids reached and a proximity score that decays with hop
// distance.
func (e *Engine) expandFrom(ctx context.Context, messageID string, hops int) ([]string, float32, error) {
	frontier := []string{messageID}
	visited := map[string]bool{messageID: true}
	var related []string
	var proximity float32

	for hop := 1; hop <= hops && len(frontier) > 0; hop++ {
		var next []string
		for _, node := range frontier {
			if len(related) >= e.cfg.GraphFrontierCap {
				break
			}
			outgoing, err := e.coord.OutgoingEdges(ctx, node)
			if err != nil {
				continue
			}
			for _, toNode := range outgoing {
				if visited[toNode] {
					continue
				}
				visited[toNode] = true
				related = append(related, toNode)
				next = append(next, toNode)
				proximity += 1.0 / float32(hop)
				if len(related) >= e.cfg.GraphFrontierCap {
					break
				}
			}
		}
		frontier = next
	}
	return related, proximity, nil
}

// stage4Rank combines semantic score, graph proximity, recency, and
// historical success into a confidence score, filters by
// confidence_threshold, and keeps the top limit results.
func (e *Engine) stage4Rank(ctx context.Context, scored []scoredMessage, q Query) []Result {
	experience := e.experienceFactor(ctx)
	now := time.Now().UTC()

	out := make([]Result, 0, len(scored))
	for _, s := range scored {
		confidence := combineConfidence(s, recencyScore(s.timestamp, now), experience)
		if confidence < q.ConfidenceThreshold {
			continue
		}
		out = append(out, Result{
			MessageID:        s.messageID,
			Score:            confidence,
			Reasoning:        reasoningFor(s),
			RelatedEntityIDs: s.relatedEntity,
		})
	}
	sortByScoreDesc(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (e *Engine) rankOnly(scored []scoredMessage, q Query) []Result {
	return e.stage4Rank(context.Background(), scored, q)
}

// experienceFactor summarizes the system's recent track record across
// experience.patterns, feeding Stage 4's "historical success" term: the
// mean PatternConfidence of success patterns minus that of error patterns,
// clamped to [0,1]. It is a corpus-wide term rather than a per-message one —
// ActionOutcomes aggregate into Patterns with no stable link back to the
// specific message that was retrieved, so every candidate in a given query
// shares the same experience signal.
func (e *Engine) experienceFactor(ctx context.Context) float32 {
	const patternHalfLife = 30 * 24 * time.Hour
	now := time.Now().UTC()

	avg := func(kind storage.PatternKind) float32 {
		patterns, err := e.coord.ListPatterns(ctx, kind)
		if err != nil || len(patterns) == 0 {
			return 0
		}
		var sum float32
		for _, p := range patterns {
			sum += storage.PatternConfidence(p, now, patternHalfLife)
		}
		return sum / float32(len(patterns))
	}

	factor := avg(storage.PatternSuccess) - avg(storage.PatternError)
	switch {
	case factor < 0:
		return 0
	case factor > 1:
		return 1
	default:
		return factor
	}
}

// recencyScore decays a message's contribution to confidence with age,
// halving every 30 days (the default active_window), so stage4Rank favors
// fresher matches among otherwise similarly-scored results.
func recencyScore(ts, now time.Time) float32 {
	if ts.IsZero() {
		return 0
	}
	const halfLife = 30 * 24 * time.Hour
	age := now.Sub(ts)
	if age < 0 {
		age = 0
	}
	return float32(math.Exp2(-float64(age) / float64(halfLife)))
}

func combineConfidence(s scoredMessage, recency, experience float32) float32 {
	const wSemantic, wGraph, wRecency, wExperience = 0.45, 0.15, 0.15, 0.25
	return wSemantic*s.semanticScore + wGraph*s.graphProximity + wRecency*recency + wExperience*experience
}

func reasoningFor(s scoredMessage) string {
	reason := "matched via"
	for i, c := range s.contributions {
		if i > 0 {
			reason += " and"
		}
		reason += " " + c
	}
	return reason
}

func sortByScoreDesc(results []Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
