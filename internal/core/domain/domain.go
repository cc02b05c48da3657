package domain

import "time"

// ChannelState mirrors the lifecycle of the underlying duplex stream. The
// transport owns the state; the session layer only observes it.
type ChannelState int32

const (
	StateConnecting ChannelState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Liveness is the heartbeat verdict for a session. A session that misses one
// probe becomes suspect; missing the next one terminates the channel.
type Liveness string

const (
	LivenessAlive   Liveness = "alive"
	LivenessSuspect Liveness = "suspect"
)

// ClientData is the caller-supplied identity attached to a new channel.
type ClientData struct {
	ID         string
	RemoteAddr string
}

// ClientSession is the server-side metadata for one registered channel.
// The registry owns every mutation; other components read snapshots.
type ClientSession struct {
	ID           string
	RemoteAddr   string
	ConnectedAt  time.Time
	LastActivity time.Time
	LastPongAt   time.Time
	Liveness     Liveness
	MessageCount int64
	ImageCount   int64
}

// ImageJob statuses. Received and processing are live states; analyzed and
// failed are terminal and drop the job from the admission queue.
const (
	ImageReceived   = "received"
	ImageProcessing = "processing"
	ImageAnalyzed   = "analyzed"
	ImageFailed     = "failed"
)

// ImageJob is one admitted image-analysis request tied to a client.
type ImageJob struct {
	ImageID    string    `json:"image_id"`
	ClientID   string    `json:"client_id"`
	MessageID  string    `json:"message_id"`
	Mime       string    `json:"mime"`
	Data       []byte    `json:"data"`
	Status     string    `json:"status"`
	ReceivedAt time.Time `json:"received_at"`
}

// Reply is the message processor's answer to one inbound message.
type Reply struct {
	MessageID string    `json:"message_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Archive directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// ArchiveEntry is one transcript line handed to the conversation archive.
// Seq is assigned by the repository when the entry is saved.
type ArchiveEntry struct {
	ClientID  string
	MessageID string
	Direction string
	Type      string
	Content   string
	Seq       int64
	CreatedAt time.Time
}
