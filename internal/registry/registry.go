// Package registry implements the client registry: it owns the
// lifecycle of every RakNet client and Bedrock session, routes inbound
// datagrams to them, enforces admission, and drives coordinated
// shutdown, using a two-map connecting/connected model and a
// first-upward-payload promotion rule.
package registry

import (
	"context"
	"net"
	"sync"
	"time"

	"bedrock-netcore/internal/config"
	"bedrock-netcore/internal/lifecycle"
	"bedrock-netcore/internal/logging"
	"bedrock-netcore/internal/neterr"
	"bedrock-netcore/internal/offline"
	"bedrock-netcore/pkg/bedrock"
	"bedrock-netcore/pkg/raknet"
)

// tickInterval is how often each client's flush schedule advances.
const tickInterval = 50 * time.Millisecond

// inboundQueueDepth bounds the per-client datagram backlog; a client
// that can't keep up with its own queue is, by definition, hung.
const inboundQueueDepth = 64

// Dispatch is the upper dispatcher type: invoked once per
// fully decoded Bedrock packet from a session in StateReady. The
// registry never interprets the payload itself.
type Dispatch func(session *bedrock.Session, packetID uint32, payload []byte)

// entry is one peer's registry bookkeeping: its RakNet client, the
// Bedrock session once promoted, and the bounded inbound queue its
// supervising goroutine drains.
type entry struct {
	client  *raknet.Client
	inbound chan []byte

	mu      sync.Mutex
	session *bedrock.Session
}

// Registry owns every connected and connecting peer.
type Registry struct {
	cfg        config.Provider
	dispatch   Dispatch
	send       raknet.SendFunc
	serverGUID uint64
	responder  *offline.Responder
	log        *logging.Logger
	token      *lifecycle.Token

	mu         sync.RWMutex
	connecting map[string]*entry
	connected  map[string]*entry
	shutdown   bool
}

// New constructs a Registry. send is the endpoint's transmit primitive;
// serverGUID identifies this server instance in offline replies and
// ConnectionRequestAccepted exchanges.
func New(parent context.Context, cfg config.Provider, send raknet.SendFunc, serverGUID uint64, dispatch Dispatch) *Registry {
	r := &Registry{
		cfg:        cfg,
		dispatch:   dispatch,
		send:       send,
		serverGUID: serverGUID,
		log:        logging.Named("registry"),
		token:      lifecycle.New(parent),
		connecting: make(map[string]*entry),
		connected:  make(map[string]*entry),
	}
	r.responder = offline.New(serverGUID, func() string { return r.cfg.Current().MOTD() })
	return r
}

// Dispatch implements endpoint.Dispatcher: it routes an inbound datagram
// to the peer that owns its source address, or to the offline responder
// if no peer is registered for it yet.
func (r *Registry) Dispatch(data []byte, addr *net.UDPAddr) {
	key := addr.String()

	r.mu.RLock()
	e, ok := r.connected[key]
	if !ok {
		e, ok = r.connecting[key]
	}
	r.mu.RUnlock()

	if !ok {
		r.handleOffline(data, addr)
		return
	}

	select {
	case e.inbound <- data:
	case <-time.After(raknet.ForwardTimeout):
		r.log.Warn("%s: forward timed out, marking hung", addr)
		e.client.Disconnect(neterr.ErrResourceExhausted)
	}
}

func (r *Registry) handleOffline(data []byte, addr *net.UDPAddr) {
	result, ok := r.responder.Handle(data, addr)
	if !ok {
		return
	}
	if result.Reply != nil {
		_ = r.send(result.Reply, addr)
	}
	if result.Establish {
		r.insert(addr, result.MTU)
	}
}

// insert admits a new peer following a successful OpenConnectionRequest2.
// Over-admission silently drops the connection attempt: the client will
// simply time out and retry, which is how RakNet clients already behave
// toward an unresponsive server.
func (r *Registry) insert(addr *net.UDPAddr, mtu uint16) {
	snap := r.cfg.Current()
	key := addr.String()

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return
	}
	if len(r.connecting)+len(r.connected) >= snap.MaxConnections {
		r.mu.Unlock()
		r.log.Warn("%s: rejected, at max_connections (%d)", addr, snap.MaxConnections)
		return
	}
	if _, exists := r.connecting[key]; exists {
		r.mu.Unlock()
		return
	}
	if _, exists := r.connected[key]; exists {
		r.mu.Unlock()
		return
	}

	client := raknet.NewClient(r.token.Context(), addr, raknet.ClientConfig{
		MTU:           mtu,
		BudgetPerTick: snap.Throttle.Threshold,
	}, r.send)
	e := &entry{client: client, inbound: make(chan []byte, inboundQueueDepth)}
	r.connecting[key] = e
	r.mu.Unlock()

	r.wireClient(addr, e)
	r.token.Go(func() { r.superviseClient(addr, e) })

	r.log.Info("%s: connection established at MTU %d", addr, mtu)
}

// wireClient sets up promotion: the first payload that reaches the
// client's upward callback is, by definition, the first Bedrock packet
// (RakNet's own handshake messages are intercepted inside raknet.Client
// and never reach here), so it is also the trigger to construct the
// Bedrock session and move the entry from connecting to connected.
func (r *Registry) wireClient(addr *net.UDPAddr, e *entry) {
	e.client.SetUpward(func(payload []byte) {
		e.mu.Lock()
		session := e.session
		if session == nil {
			session = bedrock.NewSession(e.client, r.cfg.Current())
			session.SetOnUpward(func(id uint32, body []byte) {
				if r.dispatch != nil {
					r.dispatch(session, id, body)
				}
			})
			e.session = session
			r.promote(addr, e)
		}
		e.mu.Unlock()
		session.HandleUpward(payload)
	})

	e.client.SetOnDisconnect(func(reason error) {
		r.remove(addr)
	})
}

func (r *Registry) promote(addr *net.UDPAddr, e *entry) {
	key := addr.String()
	r.mu.Lock()
	if _, ok := r.connecting[key]; ok {
		delete(r.connecting, key)
		r.connected[key] = e
	}
	r.mu.Unlock()
	r.log.Info("%s: promoted to a Bedrock session", addr)
}

func (r *Registry) remove(addr *net.UDPAddr) {
	key := addr.String()
	r.mu.Lock()
	delete(r.connecting, key)
	delete(r.connected, key)
	r.mu.Unlock()
}

// superviseClient is the one long-lived task per RakNetClient: it drains
// the inbound queue, drives the tick-based flush schedule, and exits
// once the client's lifecycle token is cancelled.
func (r *Registry) superviseClient(addr *net.UDPAddr, e *entry) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.client.Token().Done():
			return
		case data := <-e.inbound:
			e.client.HandleDatagram(data)
		case <-ticker.C:
			e.client.Tick()
		}
	}
}

// Broadcast publishes payload to every session currently in StateReady,
// skipping exclude if given.
func (r *Registry) Broadcast(packetID uint32, payload []byte, exclude *net.UDPAddr) {
	r.mu.RLock()
	sessions := make([]*bedrock.Session, 0, len(r.connected))
	for key, e := range r.connected {
		if exclude != nil && key == exclude.String() {
			continue
		}
		e.mu.Lock()
		s := e.session
		e.mu.Unlock()
		if s != nil && s.State() == bedrock.StateReady {
			sessions = append(sessions, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		if err := s.Send(packetID, payload); err != nil {
			r.log.Warn("broadcast send failed: %v", err)
		}
	}
}

// Kick disconnects addr, wherever it currently lives.
func (r *Registry) Kick(addr *net.UDPAddr, reason error) {
	key := addr.String()
	r.mu.RLock()
	e, ok := r.connected[key]
	if !ok {
		e, ok = r.connecting[key]
	}
	r.mu.RUnlock()
	if ok {
		e.client.Disconnect(reason)
	}
}

// ForEachSession calls f for every session currently connected.
func (r *Registry) ForEachSession(f func(*bedrock.Session)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.connected {
		e.mu.Lock()
		s := e.session
		e.mu.Unlock()
		if s != nil {
			f(s)
		}
	}
}

func (r *Registry) SessionCountConnecting() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connecting)
}

func (r *Registry) SessionCountConnected() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connected)
}

func (r *Registry) MaxConnections() int {
	return r.cfg.Current().MaxConnections
}

// Shutdown drives a two-phase barrier: send a Disconnect
// to every peer, cancel every lifecycle token, then await every
// supervising task before returning.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return
	}
	r.shutdown = true
	all := make([]*entry, 0, len(r.connecting)+len(r.connected))
	for _, e := range r.connecting {
		all = append(all, e)
	}
	for _, e := range r.connected {
		all = append(all, e)
	}
	r.mu.Unlock()

	for _, e := range all {
		e.client.Disconnect(neterr.ErrResourceExhausted)
	}

	r.token.Cancel(nil)
	r.token.Wait()
	r.log.Info("registry shut down")
}
