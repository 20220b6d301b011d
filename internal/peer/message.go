package peer

// Message is a payload received from a peer. It is never mutated after creation.
type Message struct {
	Sender  ID
	Payload []byte
}

// NewMessage copies payload so the caller may reuse its buffer.
func NewMessage(sender ID, payload []byte) Message {
	b := make([]byte, len(payload))
	copy(b, payload)
	return Message{Sender: sender, Payload: b}
}
