package core

// Frame is a raw encoded signaling message.
type Frame []byte

// SignalConnection abstracts the client's messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure of a broadcast.
type PublishResult struct {
	SendTo  int
	Dropped []*Session
}
