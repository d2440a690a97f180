package storage

import "time"

// Resolution identifies which embedding model produced a vector.
type Resolution string

const (
	ResolutionFast384     Resolution = "fast384"
	ResolutionAccurate1536 Resolution = "accurate1536"
)

// Role is the sender role of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Feedback classifies user reaction to an ActionOutcome.
type Feedback string

const (
	FeedbackNone       Feedback = "none"
	FeedbackCorrection Feedback = "correction"
	FeedbackApproval   Feedback = "approval"
	FeedbackRejection  Feedback = "rejection"
)

// PatternKind distinguishes aggregated experience patterns.
type PatternKind string

const (
	PatternSuccess PatternKind = "success"
	PatternError   PatternKind = "error"
)

// Chat is the SOURCE-class conversation container.
type Chat struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Settings  map[string]any
	Metadata  map[string]any
}

func (c *Chat) marshal() ([]byte, error) {
	e := newEncoder()
	e.putString(c.ID)
	e.putString(c.Title)
	e.putTime(c.CreatedAt)
	e.putTime(c.UpdatedAt)
	if err := e.putMetadata(c.Settings); err != nil {
		return nil, err
	}
	if err := e.putMetadata(c.Metadata); err != nil {
		return nil, err
	}
	return e.bytes(), nil
}

func unmarshalChat(b []byte) (*Chat, error) {
	d := newDecoder(b)
	c := &Chat{
		ID:        d.getString(),
		Title:     d.getString(),
		CreatedAt: d.getTime(),
		UpdatedAt: d.getTime(),
		Settings:  d.getMetadata(),
		Metadata:  d.getMetadata(),
	}
	return c, d.err
}

// Message is immutable once committed.
type Message struct {
	ID              string
	ChatID          string
	Sender          string
	Role            Role
	Text            string
	Timestamp       time.Time
	AttachmentRefs  []string
	Metadata        map[string]any
}

func (m *Message) marshal() ([]byte, error) {
	e := newEncoder()
	e.putString(m.ID)
	e.putString(m.ChatID)
	e.putString(m.Sender)
	e.putString(string(m.Role))
	e.putString(m.Text)
	e.putTime(m.Timestamp)
	e.putStringSlice(m.AttachmentRefs)
	if err := e.putMetadata(m.Metadata); err != nil {
		return nil, err
	}
	return e.bytes(), nil
}

func unmarshalMessage(b []byte) (*Message, error) {
	d := newDecoder(b)
	m := &Message{
		ID:             d.getString(),
		ChatID:         d.getString(),
		Sender:         d.getString(),
		Role:           Role(d.getString()),
		Text:           d.getString(),
		Timestamp:      d.getTime(),
		AttachmentRefs: d.getStringSlice(),
		Metadata:       d.getMetadata(),
	}
	return m, d.err
}

// Embedding stores one vector for one source entity at one resolution.
type Embedding struct {
	ID           string
	SourceID     string
	Resolution   Resolution
	Vector       []float32
	ModelVersion string
	Metadata     map[string]any
}

func (v *Embedding) marshal() ([]byte, error) {
	e := newEncoder()
	e.putString(v.ID)
	e.putString(v.SourceID)
	e.putString(string(v.Resolution))
	e.putFloat32Slice(v.Vector)
	e.putString(v.ModelVersion)
	if err := e.putMetadata(v.Metadata); err != nil {
		return nil, err
	}
	return e.bytes(), nil
}

func unmarshalEmbedding(b []byte) (*Embedding, error) {
	d := newDecoder(b)
	v := &Embedding{
		ID:           d.getString(),
		SourceID:     d.getString(),
		Resolution:   Resolution(d.getString()),
		Vector:       d.getFloat32Slice(),
		ModelVersion: d.getString(),
		Metadata:     d.getMetadata(),
	}
	return v, d.err
}

// Entity is a node in the knowledge graph.
type Entity struct {
	ID           string
	Label        string
	Type         string
	FirstSeenAt  time.Time
	MentionCount uint64
	Confidence   float32
	Metadata     map[string]any
}

func (n *Entity) marshal() ([]byte, error) {
	e := newEncoder()
	e.putString(n.ID)
	e.putString(n.Label)
	e.putString(n.Type)
	e.putTime(n.FirstSeenAt)
	e.putUint64(n.MentionCount)
	e.putFloat32(n.Confidence)
	if err := e.putMetadata(n.Metadata); err != nil {
		return nil, err
	}
	return e.bytes(), nil
}

func unmarshalEntity(b []byte) (*Entity, error) {
	d := newDecoder(b)
	n := &Entity{
		ID:           d.getString(),
		Label:        d.getString(),
		Type:         d.getString(),
		FirstSeenAt:  d.getTime(),
		MentionCount: d.getUint64(),
		Confidence:   d.getFloat32(),
		Metadata:     d.getMetadata(),
	}
	return n, d.err
}

// Edge connects two graph nodes.
type Edge struct {
	ID              string
	FromNode        string
	ToNode          string
	RelationType    string
	Weight          float32
	SourceMessageID string
	CreatedAt       time.Time
	Metadata        map[string]any
}

func (e2 *Edge) marshal() ([]byte, error) {
	e := newEncoder()
	e.putString(e2.ID)
	e.putString(e2.FromNode)
	e.putString(e2.ToNode)
	e.putString(e2.RelationType)
	e.putFloat32(e2.Weight)
	e.putString(e2.SourceMessageID)
	e.putTime(e2.CreatedAt)
	if err := e.putMetadata(e2.Metadata); err != nil {
		return nil, err
	}
	return e.bytes(), nil
}

func unmarshalEdge(b []byte) (*Edge, error) {
	d := newDecoder(b)
	edge := &Edge{
		ID:              d.getString(),
		FromNode:        d.getString(),
		ToNode:          d.getString(),
		RelationType:    d.getString(),
		Weight:          d.getFloat32(),
		SourceMessageID: d.getString(),
		CreatedAt:       d.getTime(),
		Metadata:        d.getMetadata(),
	}
	return edge, d.err
}

// SummaryScope is the time granularity a Summary covers.
type SummaryScope string

const (
	ScopeSession SummaryScope = "session"
	ScopeDaily   SummaryScope = "daily"
	ScopeWeekly  SummaryScope = "weekly"
	ScopeMonthly SummaryScope = "monthly"
)

// Summary is produced by the weaver's Summarizer module.
type Summary struct {
	ID                string
	Scope             SummaryScope
	StartTS           time.Time
	EndTS             time.Time
	Text              string
	CoveredMessageIDs []string
	Metadata          map[string]any
}

func (s *Summary) marshal() ([]byte, error) {
	e := newEncoder()
	e.putString(s.ID)
	e.putString(string(s.Scope))
	e.putTime(s.StartTS)
	e.putTime(s.EndTS)
	e.putString(s.Text)
	e.putStringSlice(s.CoveredMessageIDs)
	if err := e.putMetadata(s.Metadata); err != nil {
		return nil, err
	}
	return e.bytes(), nil
}

func unmarshalSummary(b []byte) (*Summary, error) {
	d := newDecoder(b)
	s := &Summary{
		ID:                d.getString(),
		Scope:             SummaryScope(d.getString()),
		StartTS:           d.getTime(),
		EndTS:             d.getTime(),
		Text:              d.getString(),
		CoveredMessageIDs: d.getStringSlice(),
		Metadata:          d.getMetadata(),
	}
	return s, d.err
}

// ToolResult is EXTERNAL CACHE-class data.
type ToolResult struct {
	ID              string
	ToolName        string
	Query           string
	QueryEmbedding  []float32
	ResponseBlob    []byte
	FetchedAt       time.Time
	TriggeredByMsg  string
	TTL             time.Duration
	Metadata        map[string]any
}

func (t *ToolResult) marshal() ([]byte, error) {
	e := newEncoder()
	e.putString(t.ID)
	e.putString(t.ToolName)
	e.putString(t.Query)
	e.putFloat32Slice(t.QueryEmbedding)
	e.putBytes(t.ResponseBlob)
	e.putTime(t.FetchedAt)
	e.putString(t.TriggeredByMsg)
	e.putInt64(int64(t.TTL))
	if err := e.putMetadata(t.Metadata); err != nil {
		return nil, err
	}
	return e.bytes(), nil
}

func unmarshalToolResult(b []byte) (*ToolResult, error) {
	d := newDecoder(b)
	t := &ToolResult{
		ID:             d.getString(),
		ToolName:       d.getString(),
		Query:          d.getString(),
		QueryEmbedding: d.getFloat32Slice(),
		ResponseBlob:   d.getBytes(),
		FetchedAt:      d.getTime(),
		TriggeredByMsg: d.getString(),
		TTL:            time.Duration(d.getInt64()),
		Metadata:       d.getMetadata(),
	}
	return t, d.err
}

// IsStale reports whether this result has exceeded its TTL relative to now.
func (t *ToolResult) IsStale(now time.Time) bool {
	if t.TTL <= 0 {
		return false
	}
	return now.Sub(t.FetchedAt) > t.TTL
}

// ActionOutcome is append-only LEARNING-class data.
type ActionOutcome struct {
	ID          string
	ActionType  string
	ArgsBlob    []byte
	ResultBlob  []byte
	Feedback    Feedback
	UserComment string
	Timestamp   time.Time
	ContextMsg  string
	Metadata    map[string]any
}

func (a *ActionOutcome) marshal() ([]byte, error) {
	e := newEncoder()
	e.putString(a.ID)
	e.putString(a.ActionType)
	e.putBytes(a.ArgsBlob)
	e.putBytes(a.ResultBlob)
	e.putString(string(a.Feedback))
	e.putString(a.UserComment)
	e.putTime(a.Timestamp)
	e.putString(a.ContextMsg)
	if err := e.putMetadata(a.Metadata); err != nil {
		return nil, err
	}
	return e.bytes(), nil
}

func unmarshalActionOutcome(b []byte) (*ActionOutcome, error) {
	d := newDecoder(b)
	a := &ActionOutcome{
		ID:          d.getString(),
		ActionType:  d.getString(),
		ArgsBlob:    d.getBytes(),
		ResultBlob:  d.getBytes(),
		Feedback:    Feedback(d.getString()),
		UserComment: d.getString(),
		Timestamp:   d.getTime(),
		ContextMsg:  d.getString(),
		Metadata:    d.getMetadata(),
	}
	return a, d.err
}

// Pattern is aggregated from ActionOutcomes by the experience subsystem.
type Pattern struct {
	ID             string
	Kind           PatternKind
	PatternBlob    []byte
	SuccessCount   uint64
	FailureCount   uint64
	Confidence     float32
	LastUsed       time.Time
	Embedding      []float32
	Metadata       map[string]any
}

func (p *Pattern) marshal() ([]byte, error) {
	e := newEncoder()
	e.putString(p.ID)
	e.putString(string(p.Kind))
	e.putBytes(p.PatternBlob)
	e.putUint64(p.SuccessCount)
	e.putUint64(p.FailureCount)
	e.putFloat32(p.Confidence)
	e.putTime(p.LastUsed)
	e.putFloat32Slice(p.Embedding)
	if err := e.putMetadata(p.Metadata); err != nil {
		return nil, err
	}
	return e.bytes(), nil
}

func unmarshalPattern(b []byte) (*Pattern, error) {
	d := newDecoder(b)
	p := &Pattern{
		ID:           d.getString(),
		Kind:         PatternKind(d.getString()),
		PatternBlob:  d.getBytes(),
		SuccessCount: d.getUint64(),
		FailureCount: d.getUint64(),
		Confidence:   d.getFloat32(),
		LastUsed:     d.getTime(),
		Embedding:    d.getFloat32Slice(),
		Metadata:     d.getMetadata(),
	}
	return p, d.err
}
