// Package coordination implements the shared store every role reads and
// writes through, the real-time broadcaster that fans its records out to
// live subscribers, and the question/answer pairing rules between roles.
package coordination

import "time"

// Role identifies a logical participant in the pipeline.
type Role string

const (
	RoleChat        Role = "chat"
	RolePlanner     Role = "planner"
	RoleResearcher  Role = "researcher"
	RoleCoder       Role = "coder"
	RoleSynthesizer Role = "synthesizer"
)

// MessageKind distinguishes point-to-point message semantics.
type MessageKind string

const (
	KindQuestion MessageKind = "question"
	KindAnswer   MessageKind = "answer"
	KindNote     MessageKind = "note"
)

// Speaker values for conversation turns.
const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
)

// Thought is an observability note from a role. Immutable once appended.
type Thought struct {
	Role      Role           `json:"role"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RoleMessage is a point-to-point message between two roles. The ID is
// minted at record time so an exact-pairing mode has a correlation handle;
// pending-question pairing itself uses the role-pair heuristic (see
// pending.go).
type RoleMessage struct {
	ID        string      `json:"id"`
	From      Role        `json:"from"`
	To        Role        `json:"to"`
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
}

// Script is a generated artifact. Refinement appends a new Script; entries
// are never edited in place.
type Script struct {
	Code        string    `json:"code"`
	Description string    `json:"description"`
	DatasetIDs  []string  `json:"dataset_ids"`
	Timestamp   time.Time `json:"timestamp"`
}

// ConversationTurn is one user or assistant utterance.
type ConversationTurn struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextEntry is a last-write-wins research-context value.
type ContextEntry struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType tags the StreamEvent union.
type EventType string

const (
	EventThought     EventType = "thought"
	EventRoleMessage EventType = "role_message"
	EventScript      EventType = "script"
	EventTurn        EventType = "conversation_turn"
	EventStreamChunk EventType = "stream_chunk"
	EventSource      EventType = "source"
	EventSearchQuery EventType = "search_query"
	EventToolCall    EventType = "tool_call"
	EventKeepalive   EventType = "keepalive"
)

// StreamEvent is the wire-level envelope pushed to subscribers. Exactly one
// payload field is set for the entity-carrying types; the lightweight types
// (stream_chunk, source, search_query, tool_call) use the flat fields.
type StreamEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Role      Role      `json:"role,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Thought *Thought          `json:"thought,omitempty"`
	Message *RoleMessage      `json:"message,omitempty"`
	Script  *Script           `json:"script,omitempty"`
	Turn    *ConversationTurn `json:"turn,omitempty"`

	Text        string `json:"text,omitempty"`        // stream_chunk fragment
	Title       string `json:"title,omitempty"`       // source citation
	URI         string `json:"uri,omitempty"`         // source citation
	Query       string `json:"query,omitempty"`       // search_query
	Tool        string `json:"tool,omitempty"`        // tool_call
	Description string `json:"description,omitempty"` // tool_call
}

// Snapshot is a bounded view over the store: the windows keep its cost
// independent of process age.
type Snapshot struct {
	RecentThoughts []Thought               `json:"recent_thoughts"`
	Scripts        []Script                `json:"all_scripts"`
	RecentMessages []RoleMessage           `json:"recent_messages"`
	RecentTurns    []ConversationTurn      `json:"recent_turns"`
	Context        map[string]ContextEntry `json:"context_map"`
}
