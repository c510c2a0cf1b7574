package model

// SSE event names written by the chat stream endpoint.
const (
	EventMessageID = "message_id"
	EventChunk     = "chunk"
	EventDone      = "done"
	EventError     = "error"
)

// TurnState tracks where a chat turn is in its lifecycle.
type TurnState string

const (
	TurnInit                  TurnState = "INIT"
	TurnResolvingConversation TurnState = "RESOLVING_CONVERSATION"
	TurnStreaming             TurnState = "STREAMING"
	TurnFinalizing            TurnState = "FINALIZING"
	TurnDone                  TurnState = "DONE"
	TurnError                 TurnState = "ERROR"
	TurnCancelled             TurnState = "CANCELLED"
)

// StreamEvent is one named SSE event produced by a chat turn. Data is
// marshalled as the event payload.
type StreamEvent struct {
	Event string
	Data  interface{}
}

type MessageIDPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

type ChunkPayload struct {
	Chunk string `json:"chunk"`
}

type DonePayload struct {
	MessageID      string `json:"message_id"`
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	ModelName      string `json:"model_name"`
	Usage          *Usage `json:"usage,omitempty"`
}

// ErrorPayload is the structured body of an SSE error event.
type ErrorPayload struct {
	Message         string   `json:"message"`
	Code            string   `json:"code,omitempty"`
	Suggestions     []string `json:"suggestions,omitempty"`
	Suggestion      string   `json:"suggestion,omitempty"`
	AvailableModels []string `json:"availableModels,omitempty"`
}

// HeartbeatPayload is sent as an unnamed keep-alive event.
type HeartbeatPayload struct {
	Type string `json:"type"`
}
