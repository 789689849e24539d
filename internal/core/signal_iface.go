package core

// Frame is a raw encoded message ready for the wire.
type Frame []byte

// SignalConnection abstracts the participant's messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues f without blocking; it fails when the buffer is full or the connection is gone.
	TrySend(Frame) error
	Close()
}
