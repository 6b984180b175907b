package hub

// MessageType indicates how a broadcast payload should be framed on the wire.
type MessageType int

const (
	// JSONMessage is sent as a websocket text frame
	JSONMessage MessageType = iota
	// BinaryMessage is sent as a websocket binary frame (JPEG previews)
	BinaryMessage
)

// Message is one payload queued for broadcast to dashboard clients.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON bytes.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps raw binary data.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
