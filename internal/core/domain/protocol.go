package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeConnect        = "connect"
	TypeConnectConfirm = "connect_confirm"
	TypeMessage        = "message"
	TypeResponse       = "response"
	TypeError          = "error"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeConfirm        = "confirm"
	TypeStatus         = "status"
	TypeImageStatus    = "image_status"
)

// Status values carried by confirm and image_status envelopes.
const (
	ConfirmReceived = "received"
	ConfirmAnalyzed = "analyzed"
	ConfirmFailed   = "failed"
)

// Envelope is the wire format shared by every frame on a channel, in both
// directions. Only the header fields are always present; the rest are
// type-specific and omitted when empty.
type Envelope struct {
	Type      string    `json:"type"`
	ClientID  string    `json:"client_id"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`

	// MESSAGE / RESPONSE
	Content string           `json:"content,omitempty"`
	ReplyTo string           `json:"reply_to,omitempty"`
	Image   *ImageAttachment `json:"image,omitempty"`

	// CONFIRM / STATUS / IMAGE_STATUS / ERROR
	Status      string        `json:"status,omitempty"`
	ImageID     string        `json:"image_id,omitempty"`
	Description string        `json:"description,omitempty"`
	Error       string        `json:"error,omitempty"`
	Stats       *SessionStats `json:"stats,omitempty"`
}

// SessionStats is the payload of a STATUS envelope.
type SessionStats struct {
	ActiveSessions int       `json:"active_sessions"`
	ConnectedAt    time.Time `json:"connected_at"`
	LastActivity   time.Time `json:"last_activity"`
	Liveness       string    `json:"liveness,omitempty"`
	Messages       int64     `json:"messages"`
	Images         int64     `json:"images"`
	PendingJobs    int       `json:"pending_jobs"`
}

// ImageAttachment rides inside a MESSAGE envelope when the client submits
// an image for analysis. Data is base64 on the wire as produced by
// encoding/json.
type ImageAttachment struct {
	ID   string `json:"id,omitempty"`
	Mime string `json:"mime"`
	Data []byte `json:"data"`
}

// NewEnvelope builds an outbound envelope with a fresh message id and
// timestamp.
func NewEnvelope(msgType, clientID string) Envelope {
	return Envelope{
		Type:      msgType,
		ClientID:  clientID,
		MessageID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}
}

// FireAndForget reports whether an envelope type is exempt from delivery
// tracking. Confirmations, errors and pongs are never tracked or retried.
func FireAndForget(msgType string) bool {
	switch msgType {
	case TypeConfirm, TypeError, TypePong:
		return true
	}
	return false
}
