package match

import "sync"

// Peer is one live connection of a participant. Its ID is the participant's
// identity, and is reused across reconnects.
//
// The send queue is never closed so that the match and the connection handler
// can both deliver without coordinating; done signals that the connection
// should be torn down.
type Peer struct {
	ID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewPeer(id string, queueSize int) *Peer {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Peer{
		ID:   id,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

// Deliver queues a frame without blocking. It reports false if the peer is
// closed or its queue is full.
func (p *Peer) Deliver(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

func (p *Peer) Outbox() <-chan []byte { return p.send }

func (p *Peer) Done() <-chan struct{} { return p.done }

// Close is idempotent.
func (p *Peer) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}
