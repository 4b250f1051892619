package raknet

import (
	"context"
	"net"
	"sync"
	"time"

	"bedrock-netcore/internal/lifecycle"
	"bedrock-netcore/internal/logging"
	"bedrock-netcore/internal/neterr"
)

// SendFunc transmits one already-framed datagram to addr. It is supplied by
// the endpoint layer so this package never touches a net.PacketConn
// directly.
type SendFunc func(data []byte, addr *net.UDPAddr) error

// ClientConfig holds the per-client tunables that the registry derives from
// the hot-reloadable configuration snapshot.
type ClientConfig struct {
	MTU           uint16
	BudgetPerTick int
	IdleTimeout   time.Duration
}

// Client is one peer's RakNet reliability state: order channels, compound
// reassembly, the recovery buffer and the priority send queues.
//
// A Client is driven by exactly two external inputs: HandleDatagram for
// inbound traffic and Tick for the flush schedule. Both take the same
// mutex, so callers do not need their own synchronization.
type Client struct {
	addr *net.UDPAddr
	mtu  int
	log  *logging.Logger

	token *lifecycle.Token
	send  SendFunc

	idleTimeout time.Duration

	mu sync.Mutex

	orderChannels [OrderChannels]*orderChannel
	compounds     *compoundSet
	recovery      *recoveryBuffer
	budget        *budget

	pendingAck map[uint32]struct{}
	pendingNak map[uint32]struct{}
	gapHave    bool
	gapHighest uint32

	sendQueues [priorityCount][]*Frame

	nextBatchSeq      uint32
	nextReliableIndex uint32
	nextCompoundID    uint16

	clientGUID    uint64
	raknetReady   bool
	lastActivity  time.Time
	tickCount     uint64
	disconnecting bool

	onUpward     func(payload []byte)
	onDisconnect func(reason error)
}

// NewClient constructs a Client bound to addr. parent is the registry's
// master cancellation context; the returned client's Token is a child of it
// so a registry-wide shutdown cancels every client at once.
func NewClient(parent context.Context, addr *net.UDPAddr, cfg ClientConfig, send SendFunc) *Client {
	mtu := int(cfg.MTU)
	if mtu < MinMTUSize {
		mtu = DefaultMTUSize
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = IdleTimeout
	}
	budgetCap := cfg.BudgetPerTick
	if budgetCap <= 0 {
		budgetCap = 1024
	}

	c := &Client{
		addr:         addr,
		mtu:          mtu,
		log:          logging.Named("raknet"),
		token:        lifecycle.New(parent),
		idleTimeout:  idle,
		compounds:    newCompoundSet(),
		recovery:     newRecoveryBuffer(),
		budget:       newBudget(budgetCap),
		pendingAck:   make(map[uint32]struct{}),
		pendingNak:   make(map[uint32]struct{}),
		lastActivity: time.Now(),
		send:         send,
	}
	for i := range c.orderChannels {
		c.orderChannels[i] = newOrderChannel()
	}
	return c
}

func (c *Client) sendRaw(data []byte) {
	if c.send == nil {
		return
	}
	if err := c.send(data, c.addr); err != nil {
		c.log.Warn("write to %s failed: %v", c.addr, err)
	}
}

func (c *Client) Addr() *net.UDPAddr   { return c.addr }
func (c *Client) GUID() uint64         { return c.clientGUID }
func (c *Client) Token() *lifecycle.Token { return c.token }

// SetUpward registers the callback invoked with every application payload
// that isn't handled internally by the RakNet handshake.
func (c *Client) SetUpward(fn func(payload []byte)) {
	c.mu.Lock()
	c.onUpward = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers the callback invoked exactly once when the
// client's lifecycle token is cancelled, whether by timeout, budget
// exhaustion, a local Disconnect call, or a peer DisconnectNotification.
func (c *Client) SetOnDisconnect(fn func(reason error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// HandleDatagram processes one inbound RakNet datagram already addressed to
// this client by the endpoint. It never blocks.
func (c *Client) HandleDatagram(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(data) == 0 {
		return
	}
	c.lastActivity = time.Now()

	if !c.budget.consume() {
		c.log.Debug("%s: budget exhausted mid-tick, dropping datagram", c.addr)
		return
	}

	flags := data[0]
	switch {
	case flags&flagACK != 0:
		c.handleAck(data)
	case flags&flagNAK != 0:
		c.handleNak(data)
	case flags&flagDatagram != 0:
		c.handleBatch(data)
	default:
		c.log.Debug("%s: unrecognized flag byte %#x", c.addr, flags)
	}
}

func (c *Client) handleAck(data []byte) {
	records, err := decodeAckOrNak(data)
	if err != nil {
		c.log.Debug("%s: malformed ACK: %v", c.addr, err)
		return
	}
	c.recovery.ack(expandRecords(records))
}

func (c *Client) handleNak(data []byte) {
	records, err := decodeAckOrNak(data)
	if err != nil {
		c.log.Debug("%s: malformed NAK: %v", c.addr, err)
		return
	}
	for _, batch := range c.recovery.resend(expandRecords(records)) {
		c.sendRaw(batch.Encode())
	}
}

func (c *Client) handleBatch(data []byte) {
	batch, err := decodeBatch(data)
	if err != nil {
		c.log.Debug("%s: malformed batch: %v", c.addr, err)
		return
	}

	c.recordSeen(batch.SequenceNumber)
	if batch.containsReliable() {
		c.pendingAck[batch.SequenceNumber] = struct{}{}
	}

	for _, f := range batch.Frames {
		c.handleFrame(f)
	}
}

// recordSeen tracks the highest batch sequence number observed and
// queues NAK requests for any gap below it, mirroring the ACK bookkeeping above
// but for the receive direction.
func (c *Client) recordSeen(seq uint32) {
	if !c.gapHave {
		c.gapHave = true
		c.gapHighest = seq
		return
	}
	if seq <= c.gapHighest {
		delete(c.pendingNak, seq)
		return
	}
	for missing := c.gapHighest + 1; missing < seq; missing++ {
		c.pendingNak[missing] = struct{}{}
	}
	c.gapHighest = seq
}

func (c *Client) handleFrame(f *Frame) {
	if f.Compound {
		reassembled, err := c.compounds.insert(f)
		if err != nil {
			c.log.Warn("%s: dropping oversized compound: %v", c.addr, err)
			return
		}
		if reassembled == nil {
			return // still assembling
		}
		f = reassembled
	}

	switch {
	case f.Reliability.hasOrderField():
		ch := c.orderChannels[f.OrderChannel%OrderChannels]
		for _, drained := range ch.insert(f) {
			c.deliverUp(drained.Payload)
		}
	case f.Reliability.IsSequenced():
		ch := c.orderChannels[f.OrderChannel%OrderChannels]
		if ch.acceptSequenced(f.SequenceIndex) {
			c.deliverUp(f.Payload)
		}
	default:
		c.deliverUp(f.Payload)
	}
}

// deliverUp dispatches a fully-reassembled, in-order application payload.
// RakNet's own offline-handshake-successor messages (ConnectionRequest,
// NewIncomingConnection, DisconnectNotification) are intercepted here and
// never reach the caller's upward callback, matching the layering
// between the RakNet and Bedrock session layers.
func (c *Client) deliverUp(payload []byte) {
	if len(payload) == 0 {
		return
	}
	switch payload[0] {
	case IDConnectionRequest:
		c.handleConnectionRequest(payload)
	case IDNewIncomingConnection:
		c.raknetReady = true
	case IDDisconnectNotification:
		c.disconnectLocked(nil)
	default:
		if c.onUpward != nil {
			c.onUpward(payload)
		}
	}
}

func (c *Client) handleConnectionRequest(payload []byte) {
	r := newReader(payload)
	r.offset = 1
	guid, err := r.uint64BE()
	if err != nil {
		c.log.Debug("%s: truncated ConnectionRequest", c.addr)
		return
	}
	timestamp, _ := r.uint64BE()
	c.clientGUID = guid

	reply := buildConnectionRequestAccepted(c.addr, timestamp)
	c.queueLocked(&Frame{Reliability: Reliable, Payload: reply}, PriorityImmediate)
}

func buildConnectionRequestAccepted(clientAddr *net.UDPAddr, clientTimestamp uint64) []byte {
	w := newWriter()
	w.byte(IDConnectionRequestAccepted)
	writeAddress(w, clientAddr)
	w.uint16BE(0) // system index; this core does not implement multi-address NAT punch-through
	w.uint64BE(clientTimestamp)
	return w.Bytes()
}

// Send enqueues payload for later transmission at the given reliability,
// order channel and priority. It does not assign
// wire indices; those are allocated at flush time so a burst of Sends
// between two ticks still produces a strictly increasing index sequence.
func (c *Client) Send(payload []byte, reliability Reliability, channel uint8, priority Priority) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueLocked(&Frame{Reliability: reliability, OrderChannel: channel % OrderChannels, Payload: payload}, priority)
}

func (c *Client) queueLocked(f *Frame, priority Priority) {
	if priority >= Priority(priorityCount) {
		priority = PriorityMedium
	}
	c.sendQueues[priority] = append(c.sendQueues[priority], f)
}

// Tick advances the flush schedule by one step: every
// tick flushes Immediate and High, every 2nd tick also flushes Medium,
// every 4th tick also flushes Low and any pending ACK/NAK batch. It also
// refills the admission budget, reaps stale compounds, and enforces the
// idle timeout.
func (c *Client) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disconnecting {
		return
	}

	c.tickCount++
	c.compounds.reapStale(time.Now())

	if c.budget.exhausted() {
		c.log.Warn("%s: exhausted admission budget, disconnecting", c.addr)
		c.disconnectLocked(neterr.ErrResourceExhausted)
		return
	}
	c.budget.refill()

	if time.Since(c.lastActivity) > c.idleTimeout {
		c.log.Info("%s: idle timeout", c.addr)
		c.disconnectLocked(neterr.ErrResourceExhausted)
		return
	}

	c.flushQueueLocked(PriorityImmediate)
	c.flushQueueLocked(PriorityHigh)
	if c.tickCount%2 == 0 {
		c.flushQueueLocked(PriorityMedium)
	}
	if c.tickCount%4 == 0 {
		c.flushQueueLocked(PriorityLow)
		c.flushPendingAckLocked()
		c.flushPendingNakLocked()
	}
}

func (c *Client) flushPendingAckLocked() {
	if len(c.pendingAck) == 0 {
		return
	}
	seqs := make([]uint32, 0, len(c.pendingAck))
	for s := range c.pendingAck {
		seqs = append(seqs, s)
	}
	c.pendingAck = make(map[uint32]struct{})
	c.sendRaw(EncodeACK(seqs))
}

func (c *Client) flushPendingNakLocked() {
	if len(c.pendingNak) == 0 {
		return
	}
	seqs := make([]uint32, 0, len(c.pendingNak))
	for s := range c.pendingNak {
		seqs = append(seqs, s)
	}
	c.sendRaw(EncodeNAK(seqs))
}

func (c *Client) flushQueueLocked(p Priority) {
	frames := c.sendQueues[p]
	if len(frames) == 0 {
		return
	}
	c.sendQueues[p] = nil

	prepared := c.prepareFramesLocked(frames)
	for _, batch := range c.packBatchesLocked(prepared) {
		if batch.containsReliable() {
			c.recovery.retain(batch)
		}
		c.sendRaw(batch.Encode())
	}
}

// prepareFramesLocked assigns wire indices and splits any frame too large
// for the configured MTU into a compound.
func (c *Client) prepareFramesLocked(frames []*Frame) []*Frame {
	budgetForSingle := c.mtu - frameBatchOverhead
	out := make([]*Frame, 0, len(frames))

	for _, f := range frames {
		if f.wireSize() <= budgetForSingle {
			c.assignIndicesLocked(f)
			out = append(out, f)
			continue
		}

		fragments := c.splitFrameLocked(f)
		if f.Reliability.IsOrdered() {
			// Ordered compounds share one order index allocated once on
			// channel 0, regardless of the frame's original channel.
			idx := c.orderChannels[0].nextOrder()
			for _, frag := range fragments {
				frag.OrderChannel = 0
				frag.OrderIndex = idx
			}
		}
		for _, frag := range fragments {
			if frag.Reliability.IsReliable() {
				frag.ReliableIndex = c.nextReliableIndex
				c.nextReliableIndex++
			}
			if frag.Reliability.IsSequenced() && !f.Reliability.IsOrdered() {
				frag.SequenceIndex = c.orderChannels[frag.OrderChannel].nextSequence()
			}
		}
		out = append(out, fragments...)
	}
	return out
}

func (c *Client) assignIndicesLocked(f *Frame) {
	if f.Reliability.IsReliable() {
		f.ReliableIndex = c.nextReliableIndex
		c.nextReliableIndex++
	}
	ch := c.orderChannels[f.OrderChannel%OrderChannels]
	switch {
	case f.Reliability.hasOrderField():
		f.OrderIndex = ch.nextOrder()
	case f.Reliability.IsSequenced():
		f.SequenceIndex = ch.nextSequence()
	}
}

func (c *Client) splitFrameLocked(f *Frame) []*Frame {
	template := &Frame{Reliability: f.Reliability, Compound: true}
	maxPayload := c.mtu - frameBatchOverhead - template.headerSize()
	if maxPayload <= 0 {
		maxPayload = 1
	}

	id := c.nextCompoundID
	c.nextCompoundID++

	total := (len(f.Payload) + maxPayload - 1) / maxPayload
	if total == 0 {
		total = 1
	}

	fragments := make([]*Frame, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(f.Payload) {
			end = len(f.Payload)
		}
		fragments = append(fragments, &Frame{
			Reliability:   f.Reliability,
			OrderChannel:  f.OrderChannel,
			Compound:      true,
			CompoundSize:  uint32(total),
			CompoundID:    id,
			CompoundIndex: uint32(i),
			Payload:       f.Payload[start:end],
		})
	}
	return fragments
}

// packBatchesLocked bins prepared frames into MTU-bounded batches and
// assigns each a fresh sequence number.
func (c *Client) packBatchesLocked(prepared []*Frame) []*Batch {
	var batches []*Batch
	var current []*Frame
	size := frameBatchOverhead

	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, &Batch{SequenceNumber: c.nextBatchSeq, Frames: current})
		c.nextBatchSeq++
		current = nil
		size = frameBatchOverhead
	}

	for _, f := range prepared {
		fs := f.wireSize()
		if size+fs > c.mtu && len(current) > 0 {
			flush()
		}
		current = append(current, f)
		size += fs
	}
	flush()
	return batches
}

// Disconnect tears the client down, sending a best-effort
// DisconnectNotification before cancelling the lifecycle token. A nil
// reason is treated as peer-initiated and sends no notification. Calling
// it more than once is a no-op.
func (c *Client) Disconnect(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked(reason)
}

func (c *Client) disconnectLocked(reason error) {
	if c.disconnecting {
		return
	}
	c.disconnecting = true

	if reason != nil {
		// Peer-initiated disconnects (reason == nil, from
		// IDDisconnectNotification) don't get one echoed back.
		f := &Frame{Reliability: Reliable, Payload: []byte{IDDisconnectNotification}}
		c.assignIndicesLocked(f)
		for _, batch := range c.packBatchesLocked([]*Frame{f}) {
			c.sendRaw(batch.Encode())
		}
	}

	c.token.Cancel(reason)
	if c.onDisconnect != nil {
		c.onDisconnect(reason)
	}
}
