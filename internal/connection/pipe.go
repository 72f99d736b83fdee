package connection

import "sync"

// pipeBuffer is the number of frames each direction of a Pipe holds before
// WriteFrame blocks.
const pipeBuffer = 16

// pipe is the shared state of both ends. Closing either end closes both,
// like net.Pipe.
type pipe struct {
	done      chan struct{}
	closeOnce sync.Once
}

type pipeEnd struct {
	p   *pipe
	in  <-chan []byte
	out chan<- []byte
}

// Pipe returns two connected in-memory sockets. Frames written on one end
// are read on the other in order. Frames still buffered when the pipe closes
// are discarded.
func Pipe() (Socket, Socket) {
	p := &pipe{done: make(chan struct{})}
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)

	return &pipeEnd{p: p, in: ba, out: ab}, &pipeEnd{p: p, in: ab, out: ba}
}

func (e *pipeEnd) Split() (Inbound, Outbound) {
	return e, e
}

func (e *pipeEnd) ReadFrame() ([]byte, error) {
	select {
	case <-e.p.done:
		return nil, ErrTransportClosed
	default:
	}

	select {
	case data := <-e.in:
		return data, nil
	case <-e.p.done:
		return nil, ErrTransportClosed
	}
}

func (e *pipeEnd) WriteFrame(data []byte) error {
	select {
	case <-e.p.done:
		return ErrTransportClosed
	default:
	}

	frame := make([]byte, len(data))
	copy(frame, data)

	select {
	case e.out <- frame:
		return nil
	case <-e.p.done:
		return ErrTransportClosed
	}
}

func (e *pipeEnd) Close() error {
	e.p.closeOnce.Do(func() {
		close(e.p.done)
	})
	return nil
}
