package ws

import "encoding/json"

// Envelope is the shape of every server-originated frame.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func marshalEnvelope(event string, data any) []byte {
	msg, _ := json.Marshal(Envelope{Type: event, Data: data})
	return msg
}

type AuthCommand struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type SubscribeCommand struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type CreateSessionCommand struct {
	Type       string `json:"type"`
	BoardSize  int    `json:"boardSize"`
	MaxPlayers int    `json:"maxPlayers"`
}

type SessionCommand struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type ClaimCellCommand struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
}

type SetReadyCommand struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Ready     bool   `json:"ready"`
}

type SendChatCommand struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type MarkReadCommand struct {
	Type           string `json:"type"`
	NotificationID string `json:"notificationId"`
}

// CommandError goes only to the connection that issued the failing command.
type CommandError struct {
	Op     string `json:"op"`
	Reason string `json:"reason"`
}

type CellRejected struct {
	SessionID string `json:"sessionId"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Reason    string `json:"reason"`
}

type Authenticated struct {
	UserID string `json:"userId"`
}
