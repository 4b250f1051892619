// Package endpoint implements the datagram I/O layer: one UDP socket, a
// receive loop that hands each datagram to a dispatcher, and a
// fire-and-forget send primitive used by every other component.
package endpoint

import (
	"context"
	"net"

	"bedrock-netcore/internal/lifecycle"
	"bedrock-netcore/internal/logging"
	"bedrock-netcore/pkg/raknet"
)

// Dispatcher routes one inbound datagram to whatever owns its source
// address (the registry, in production). Dispatch must itself bound how
// long it blocks — the endpoint's receive loop trusts it to, exactly as
// the registry's own forwarding does with its own short timeout.
type Dispatcher interface {
	Dispatch(data []byte, from *net.UDPAddr)
}

// Endpoint owns the UDP socket.
type Endpoint struct {
	conn       *net.UDPConn
	log        *logging.Logger
	token      *lifecycle.Token
	dispatcher Dispatcher
}

// New binds addr and returns an Endpoint ready to Run. A bind failure is
// fatal to construction — callers have nothing to run until it succeeds.
func New(parent context.Context, addr *net.UDPAddr, dispatcher Dispatcher) (*Endpoint, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Endpoint{
		conn:       conn,
		log:        logging.Named("endpoint"),
		token:      lifecycle.New(parent),
		dispatcher: dispatcher,
	}, nil
}

// LocalAddr reports the bound address, useful when addr was ":0".
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Send transmits data to addr. Errors are logged and returned but never
// tear down the socket.
func (e *Endpoint) Send(data []byte, addr *net.UDPAddr) error {
	_, err := e.conn.WriteToUDP(data, addr)
	if err != nil {
		e.log.Warn("send to %s failed: %v", addr, err)
	}
	return err
}

// Run drives the receive loop until Close is called or the socket dies.
// Each datagram is copied off the shared read buffer and handed to the
// dispatcher on its own goroutine.
func (e *Endpoint) Run() {
	buf := make([]byte, raknet.MaxMTUSize)
	for {
		select {
		case <-e.token.Done():
			return
		default:
		}

		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if e.token.Err() != nil {
				return // Close already tore the socket down
			}
			e.log.Fatal("recv failed, endpoint cannot continue: %v", err)
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		go e.dispatcher.Dispatch(data, addr)
	}
}

// Close stops the receive loop and releases the socket.
func (e *Endpoint) Close() error {
	e.token.Cancel(nil)
	return e.conn.Close()
}
