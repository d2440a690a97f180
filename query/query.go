// Package query implements the unified query API: a
// four-stage pipeline — meta routing, structural filtering, two-stage
// semantic search, and graph expansion plus ranking — fed by storage,
// indexing, and embedding, and coordinated with the scheduler's activity
// heartbeat.
package query

import "time"

// TimeScope narrows a query to a window of message history.
type TimeScope int

const (
	ScopeToday TimeScope = iota
	ScopeLastWeek
	ScopeLastMonth
	ScopeLastQuarter
	ScopeAllTime
	ScopeRange
)

// ContextKind selects which chats a query considers.
type ContextKind int

const (
	ContextCurrentChat ContextKind = iota
	ContextAllChats
	ContextRelatedChats
	ContextByTopic
)

// SearchDepthKind selects how far graph expansion travels.
type SearchDepthKind int

const (
	DepthShallow SearchDepthKind = iota
	DepthLevel
	DepthDeep
)

// Temperature restricts which storage tiers a query may touch.
type Temperature int

const (
	TemperatureHot Temperature = iota
	TemperatureWarm
	TemperatureCold
	TemperatureAll
)

// Context describes the ContextKind plus whatever id(s) it needs.
type Context struct {
	Kind     ContextKind
	ChatID   string
	TopicIDs []string
}

// SearchDepth describes the SearchDepthKind plus its level, when Level.
type SearchDepth struct {
	Kind  SearchDepthKind
	Level int
}

// deepDepth is the hop count DepthDeep resolves to.
const deepDepth = 4

// Hops returns how many graph hops this SearchDepth permits.
func (d SearchDepth) Hops() int {
	switch d.Kind {
	case DepthShallow:
		return 1
	case DepthLevel:
		return d.Level
	case DepthDeep:
		return deepDepth
	default:
		return 0
	}
}

// Query is the unified descriptor every search goes through.
type Query struct {
	Semantic  string
	TimeScope TimeScope
	RangeFrom time.Time
	RangeTo   time.Time

	Context Context

	UseKnowledgeGraph bool
	SearchDepth       SearchDepth
	Temperature       Temperature

	Limit                int
	ConfidenceThreshold  float32
}

// Result is one scored, reasoned hit.
type Result struct {
	MessageID        string
	Score            float32
	Reasoning        string
	RelatedEntityIDs []string
}

// QueryResult is the envelope Execute returns.
type QueryResult struct {
	Results     []Result
	Incomplete  bool
	Cancelled   bool
	StagesRun   []string
	WallTime    time.Duration
	Downshifted bool
}
