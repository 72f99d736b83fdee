package connection

// Inbound is the read half of a message socket.
type Inbound interface {
	// ReadFrame blocks until the next message arrives. After the socket is
	// closed it returns an error; a clean close wraps ErrTransportClosed.
	ReadFrame() ([]byte, error)
}

// Outbound is the write half of a message socket.
type Outbound interface {
	// WriteFrame writes one message. Callers serialize WriteFrame calls.
	WriteFrame(data []byte) error

	// Close tears down the whole socket and unblocks a pending ReadFrame.
	// It is safe to call concurrently with WriteFrame and more than once.
	Close() error
}

// Socket is a message-oriented duplex transport that can be split into
// independently driven halves. Split is called once.
type Socket interface {
	Split() (Inbound, Outbound)
}
