package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Snapshot window sizes.
const (
	thoughtWindow = 50
	messageWindow = 20
	turnWindow    = 20
)

// Archive is an optional durable sink for turns and scripts. Writes are
// best-effort: failures are logged and never affect the record operation.
type Archive interface {
	SaveTurn(ctx context.Context, turn ConversationTurn) error
	SaveScript(ctx context.Context, script Script) error
}

// Store is the single source of truth for all role state: append-only logs
// of thoughts, messages, scripts, and conversation turns, plus the
// last-write-wins research-context map. Every record operation appends and
// publishes under one mutex hold, so no subscriber can observe an event
// whose entry is not already in the log.
type Store struct {
	mu          sync.Mutex
	thoughts    []Thought
	messages    []RoleMessage
	scripts     []Script
	turns       []ConversationTurn
	contextMap  map[string]ContextEntry
	broadcaster *Broadcaster
	archive     Archive
	logger      zerolog.Logger
}

// NewStore creates a store publishing into the given broadcaster.
func NewStore(b *Broadcaster, logger zerolog.Logger) *Store {
	return &Store{
		contextMap:  make(map[string]ContextEntry),
		broadcaster: b,
		logger:      logger.With().Str("component", "store").Logger(),
	}
}

// WithArchive attaches a durable archive sink. Must be called before the
// store is shared across goroutines.
func (s *Store) WithArchive(a Archive) *Store {
	s.archive = a
	return s
}

func newEvent(t EventType, role Role, ts time.Time) StreamEvent {
	return StreamEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Role:      role,
		Timestamp: ts,
	}
}

// RecordThought appends an observability note and publishes it.
func (s *Store) RecordThought(role Role, text string, metadata map[string]any) Thought {
	s.mu.Lock()
	defer s.mu.Unlock()

	thought := Thought{Role: role, Text: text, Timestamp: time.Now(), Metadata: metadata}
	s.thoughts = append(s.thoughts, thought)

	ev := newEvent(EventThought, role, thought.Timestamp)
	ev.Thought = &thought
	s.broadcaster.Publish(ev)

	return thought
}

// RecordMessage appends a point-to-point message between two roles.
func (s *Store) RecordMessage(from, to Role, kind MessageKind, text string) RoleMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := RoleMessage{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Kind:      kind,
		Text:      text,
		Timestamp: time.Now(),
	}
	s.messages = append(s.messages, msg)

	ev := newEvent(EventRoleMessage, from, msg.Timestamp)
	ev.Message = &msg
	s.broadcaster.Publish(ev)

	return msg
}

// RecordScript appends a generated artifact. The newest entry becomes the
// latest script.
func (s *Store) RecordScript(code, description string, datasetIDs []string) Script {
	s.mu.Lock()
	script := Script{
		Code:        code,
		Description: description,
		DatasetIDs:  datasetIDs,
		Timestamp:   time.Now(),
	}
	s.scripts = append(s.scripts, script)

	ev := newEvent(EventScript, RoleCoder, script.Timestamp)
	ev.Script = &script
	s.broadcaster.Publish(ev)
	s.mu.Unlock()

	s.archiveScript(script)
	return script
}

// RecordConversationTurn appends one user or assistant utterance.
func (s *Store) RecordConversationTurn(speaker, text string) {
	s.mu.Lock()
	turn := ConversationTurn{Speaker: speaker, Text: text, Timestamp: time.Now()}
	s.turns = append(s.turns, turn)

	ev := newEvent(EventTurn, "", turn.Timestamp)
	ev.Turn = &turn
	s.broadcaster.Publish(ev)
	s.mu.Unlock()

	s.archiveTurn(turn)
}

// RecordStreamChunk publishes an incremental generation fragment without
// storing it as a Thought.
func (s *Store) RecordStreamChunk(role Role, fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := newEvent(EventStreamChunk, role, time.Now())
	ev.Text = fragment
	s.broadcaster.Publish(ev)
}

// RecordSource appends a grounding citation as a Thought and publishes a
// typed source event.
func (s *Store) RecordSource(role Role, title, uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	thought := Thought{
		Role:      role,
		Text:      "Source: " + title,
		Timestamp: now,
		Metadata:  map[string]any{"title": title, "uri": uri},
	}
	s.thoughts = append(s.thoughts, thought)

	ev := newEvent(EventSource, role, now)
	ev.Title = title
	ev.URI = uri
	s.broadcaster.Publish(ev)
}

// RecordSearchQuery appends a web-search query as a Thought and publishes a
// typed search_query event.
func (s *Store) RecordSearchQuery(role Role, query string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	thought := Thought{
		Role:      role,
		Text:      "Searched: " + query,
		Timestamp: now,
		Metadata:  map[string]any{"query": query},
	}
	s.thoughts = append(s.thoughts, thought)

	ev := newEvent(EventSearchQuery, role, now)
	ev.Query = query
	s.broadcaster.Publish(ev)
}

// RecordToolCall appends a tool invocation as a Thought and publishes a
// typed tool_call event.
func (s *Store) RecordToolCall(role Role, tool, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	text := "Calling: " + tool
	if description != "" {
		text += " - " + description
	}
	thought := Thought{
		Role:      role,
		Text:      text,
		Timestamp: now,
		Metadata:  map[string]any{"tool": tool},
	}
	s.thoughts = append(s.thoughts, thought)

	ev := newEvent(EventToolCall, role, now)
	ev.Tool = tool
	ev.Description = description
	s.broadcaster.Publish(ev)
}

// SetContext stores a research-context value, last write wins per key.
func (s *Store) SetContext(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contextMap[key] = ContextEntry{Value: value, Timestamp: time.Now()}
}

// Context returns the entry for a key.
func (s *Store) Context(key string) (ContextEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.contextMap[key]
	return entry, ok
}

// Snapshot returns a bounded copy of the store: the most recent 50 thoughts,
// all scripts, the most recent 20 messages and turns, and the context map.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctxCopy := make(map[string]ContextEntry, len(s.contextMap))
	for k, v := range s.contextMap {
		ctxCopy[k] = v
	}

	return Snapshot{
		RecentThoughts: tail(s.thoughts, thoughtWindow),
		Scripts:        append([]Script(nil), s.scripts...),
		RecentMessages: tail(s.messages, messageWindow),
		RecentTurns:    tail(s.turns, turnWindow),
		Context:        ctxCopy,
	}
}

// LatestScript returns the most recently recorded script.
func (s *Store) LatestScript() (Script, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.scripts) == 0 {
		return Script{}, false
	}
	return s.scripts[len(s.scripts)-1], true
}

// RecentTurns returns up to n of the latest conversation turns.
func (s *Store) RecentTurns(n int) []ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	return tail(s.turns, n)
}

// Reset atomically empties every log and the context map.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.thoughts = nil
	s.messages = nil
	s.scripts = nil
	s.turns = nil
	s.contextMap = make(map[string]ContextEntry)
}

func (s *Store) archiveTurn(turn ConversationTurn) {
	if s.archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.archive.SaveTurn(ctx, turn); err != nil {
			s.logger.Warn().Err(err).Msg("archive turn write failed")
		}
	}()
}

func (s *Store) archiveScript(script Script) {
	if s.archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.archive.SaveScript(ctx, script); err != nil {
			s.logger.Warn().Err(err).Msg("archive script write failed")
		}
	}()
}

// tail copies the last n elements of a slice.
func tail[T any](items []T, n int) []T {
	if len(items) > n {
		items = items[len(items)-n:]
	}
	return append([]T(nil), items...)
}
