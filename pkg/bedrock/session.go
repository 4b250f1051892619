package bedrock

import (
	"encoding/binary"
	"fmt"
	"sync"

	"bedrock-netcore/internal/config"
	"bedrock-netcore/internal/logging"
	"bedrock-netcore/internal/neterr"
	"bedrock-netcore/pkg/bedrockcrypto"
	"bedrock-netcore/pkg/raknet"
)

// State is the Bedrock login handshake's position:
// RequestNetworkSettings -> Login -> encryption handshake -> resource
// packs -> spawn -> ready for ordinary gameplay traffic.
type State int

const (
	StateAwaitingNetworkSettingsRequest State = iota
	StateAwaitingLogin
	StateAwaitingClientToServerHandshake
	StateAwaitingResourcePackResponse
	StateSpawning
	StateReady
)

func (s State) String() string {
	switch s {
	case StateAwaitingNetworkSettingsRequest:
		return "awaiting-network-settings-request"
	case StateAwaitingLogin:
		return "awaiting-login"
	case StateAwaitingClientToServerHandshake:
		return "awaiting-client-to-server-handshake"
	case StateAwaitingResourcePackResponse:
		return "awaiting-resource-pack-response"
	case StateSpawning:
		return "spawning"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Transport is the subset of *raknet.Client a Session needs: enough to
// enqueue outgoing frames without this package depending on the rest of
// raknet.Client's surface.
type Transport interface {
	Send(payload []byte, reliability raknet.Reliability, channel uint8, priority raknet.Priority)
}

// Session is the Bedrock protocol state machine layered on top of one
// RakNet client connection. It owns the handshake,
// encryption and compression, and once StateReady is reached, forwards
// every further sub-packet upward untouched — this core implements the
// login sequence, not game rules.
type Session struct {
	transport Transport
	log       *logging.Logger
	cfg       *config.Snapshot

	mu                   sync.Mutex
	state                State
	compressionActive    bool
	sentResourcePackStack bool

	encryptor *bedrockcrypto.Encryptor
	identity  *bedrockcrypto.IdentityData
	userData  *bedrockcrypto.UserData

	onReady  func(*Session)
	onUpward func(id uint32, body []byte)
}

// NewSession constructs a Session bound to transport, using cfg as the
// (point-in-time) configuration snapshot for compression and render
// distance negotiation.
func NewSession(transport Transport, cfg *config.Snapshot) *Session {
	return &Session{
		transport: transport,
		log:       logging.Named("bedrock"),
		cfg:       cfg,
		state:     StateAwaitingNetworkSettingsRequest,
	}
}

// SetOnReady registers the callback invoked once, the moment the session
// reaches StateReady.
func (s *Session) SetOnReady(fn func(*Session)) {
	s.mu.Lock()
	s.onReady = fn
	s.mu.Unlock()
}

// SetOnUpward registers the callback invoked with every sub-packet that
// arrives once the session is StateReady.
func (s *Session) SetOnUpward(fn func(id uint32, body []byte)) {
	s.mu.Lock()
	s.onUpward = fn
	s.mu.Unlock()
}

func (s *Session) Identity() *bedrockcrypto.IdentityData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send encodes and transmits one application packet to this session,
// applying whatever compression and encryption the handshake has
// negotiated so far. The registry's broadcasts go through it; the
// registry's Kick disconnects the RakNet client directly instead.
func (s *Session) Send(id uint32, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendPacketLocked(id, body)
}

// HandleUpward is the callback wired into the owning raknet.Client's
// SetUpward: it receives one fully reassembled, in-order application
// payload (a Bedrock batch frame) and drives the handshake or forwards
// gameplay traffic.
func (s *Session) HandleUpward(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plain, err := s.unwrapLocked(frame)
	if err != nil {
		s.log.Debug("dropping malformed batch: %v", err)
		return
	}

	packets, err := DecodeBatch(plain)
	if err != nil {
		s.log.Debug("dropping malformed batch: %v", err)
		return
	}

	for _, pkt := range packets {
		if err := s.dispatchLocked(pkt); err != nil {
			s.log.Warn("protocol error in state %s: %v", s.state, err)
			s.sendDisconnectLocked(err)
			return
		}
	}
}

func (s *Session) unwrapLocked(frame []byte) ([]byte, error) {
	if len(frame) == 0 || frame[0] != 0xfe {
		return nil, fmt.Errorf("%w: missing batch marker", neterr.ErrMalformedWire)
	}
	if s.encryptor == nil {
		return frame, nil
	}
	rest, err := s.encryptor.Decrypt(frame[1:])
	if err != nil {
		return nil, err
	}
	return append([]byte{0xfe}, rest...), nil
}

func (s *Session) dispatchLocked(pkt SubPacket) error {
	switch s.state {
	case StateAwaitingNetworkSettingsRequest:
		return s.handleNetworkSettingsRequestLocked(pkt)
	case StateAwaitingLogin:
		return s.handleLoginLocked(pkt)
	case StateAwaitingClientToServerHandshake:
		return s.handleClientToServerHandshakeLocked(pkt)
	case StateAwaitingResourcePackResponse:
		return s.handleResourcePackResponseLocked(pkt)
	case StateSpawning:
		s.state = StateReady
		s.log.Info("session ready")
		if s.onReady != nil {
			s.onReady(s)
		}
		fallthrough
	case StateReady:
		if s.onUpward != nil {
			s.onUpward(pkt.ID, pkt.Body)
		}
		return nil
	default:
		return fmt.Errorf("%w: session in unknown state", neterr.ErrProtocolViolation)
	}
}

func (s *Session) handleNetworkSettingsRequestLocked(pkt SubPacket) error {
	if pkt.ID != IDRequestNetworkSettings {
		return fmt.Errorf("%w: expected RequestNetworkSettings, got id %#x", neterr.ErrProtocolViolation, pkt.ID)
	}

	body := make([]byte, 0, 6)
	body = binary.LittleEndian.AppendUint16(body, uint16(compressionTagFor(s.cfg.Compression.Algorithm)))
	body = binary.LittleEndian.AppendUint16(body, s.cfg.Compression.Threshold)
	if s.cfg.Throttle.Enabled {
		body = append(body, 1)
	} else {
		body = append(body, 0)
	}
	body = binary.LittleEndian.AppendUint16(body, uint16(s.cfg.Throttle.Threshold))

	if err := s.sendPacketLocked(IDNetworkSettings, body); err != nil {
		return err
	}
	// Every packet after NetworkSettings uses the negotiated algorithm;
	// NetworkSettings itself had to go out uncompressed to announce it.
	s.compressionActive = true
	s.state = StateAwaitingLogin
	return nil
}

func (s *Session) handleLoginLocked(pkt SubPacket) error {
	if pkt.ID != IDLogin {
		return fmt.Errorf("%w: expected Login, got id %#x", neterr.ErrProtocolViolation, pkt.ID)
	}

	chainJSON, userJWT, err := parseLoginBody(pkt.Body)
	if err != nil {
		return err
	}

	chain, err := bedrockcrypto.IdentityChainFromJSON(chainJSON)
	if err != nil {
		return err
	}
	identity, err := bedrockcrypto.VerifyIdentityChain(chain)
	if err != nil {
		_ = s.sendPacketLocked(IDPlayStatus, encodePlayStatus(StatusFailedClient))
		return err
	}
	userData, err := bedrockcrypto.VerifyUserData(userJWT, identity.IdentityPublicKey)
	if err != nil {
		_ = s.sendPacketLocked(IDPlayStatus, encodePlayStatus(StatusFailedClient))
		return err
	}

	encryptor, handshakeJWT, err := bedrockcrypto.NewEncryptor(identity.IdentityPublicKey)
	if err != nil {
		return fmt.Errorf("%w: could not establish encryption: %v", neterr.ErrAuthFailure, err)
	}

	s.identity = identity
	s.userData = userData
	s.encryptor = encryptor

	if err := s.sendPacketLocked(IDServerToClientHandshake, []byte(handshakeJWT)); err != nil {
		return err
	}
	s.state = StateAwaitingClientToServerHandshake
	return nil
}

// parseLoginBody splits a Login sub-packet body into its identity-chain
// JSON and user-data JWT: protocol version, then a varint-length
// connection-request blob containing two u32-LE-length-prefixed strings.
func parseLoginBody(body []byte) (chainJSON []byte, userJWT string, err error) {
	if len(body) < 4 {
		return nil, "", fmt.Errorf("%w: Login body too short for protocol version", neterr.ErrMalformedWire)
	}
	rest := body[4:] // protocol version, unused by the handshake itself

	requestLen, n, err := readUvarint(rest)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", neterr.ErrMalformedWire, err)
	}
	rest = rest[n:]
	if int(requestLen) > len(rest) {
		return nil, "", fmt.Errorf("%w: connection request length exceeds buffer", neterr.ErrMalformedWire)
	}
	request := rest[:requestLen]

	if len(request) < 4 {
		return nil, "", fmt.Errorf("%w: connection request missing chain length", neterr.ErrMalformedWire)
	}
	chainLen := binary.LittleEndian.Uint32(request[:4])
	request = request[4:]
	if int(chainLen) > len(request) {
		return nil, "", fmt.Errorf("%w: identity chain length exceeds buffer", neterr.ErrMalformedWire)
	}
	chainJSON = request[:chainLen]
	request = request[chainLen:]

	if len(request) < 4 {
		return nil, "", fmt.Errorf("%w: connection request missing user data length", neterr.ErrMalformedWire)
	}
	userLen := binary.LittleEndian.Uint32(request[:4])
	request = request[4:]
	if int(userLen) > len(request) {
		return nil, "", fmt.Errorf("%w: user data length exceeds buffer", neterr.ErrMalformedWire)
	}
	userJWT = string(request[:userLen])

	return chainJSON, userJWT, nil
}

func (s *Session) handleClientToServerHandshakeLocked(pkt SubPacket) error {
	if pkt.ID != IDClientToServerHandshake {
		return fmt.Errorf("%w: expected ClientToServerHandshake, got id %#x", neterr.ErrProtocolViolation, pkt.ID)
	}
	if err := s.sendPacketLocked(IDPlayStatus, encodePlayStatus(StatusLoginSuccess)); err != nil {
		return err
	}
	if err := s.sendPacketLocked(IDResourcePacksInfo, nil); err != nil {
		return err
	}
	s.state = StateAwaitingResourcePackResponse
	return nil
}

func (s *Session) handleResourcePackResponseLocked(pkt SubPacket) error {
	if pkt.ID != IDResourcePackClientResponse {
		return fmt.Errorf("%w: expected ResourcePackClientResponse, got id %#x", neterr.ErrProtocolViolation, pkt.ID)
	}

	if !s.sentResourcePackStack {
		s.sentResourcePackStack = true
		return s.sendPacketLocked(IDResourcePackStack, nil)
	}

	if err := s.sendPacketLocked(IDStartGame, nil); err != nil {
		return err
	}
	if err := s.sendPacketLocked(IDPlayStatus, encodePlayStatus(StatusPlayerSpawn)); err != nil {
		return err
	}
	s.state = StateSpawning
	return nil
}

func (s *Session) sendPacketLocked(id uint32, body []byte) error {
	alg := config.CompressionNone
	threshold := s.cfg.Compression.Threshold
	if s.compressionActive {
		alg = s.cfg.Compression.Algorithm
	}

	frame, err := EncodeBatch([]SubPacket{{ID: id, Body: body}}, alg, threshold)
	if err != nil {
		return fmt.Errorf("bedrock: encode packet %#x: %w", id, err)
	}
	if s.encryptor != nil {
		frame, err = s.encryptor.Encrypt(frame)
		if err != nil {
			return fmt.Errorf("bedrock: encrypt packet %#x: %w", id, err)
		}
	}
	s.transport.Send(frame, raknet.ReliableOrdered, 0, raknet.PriorityMedium)
	return nil
}

func (s *Session) sendDisconnectLocked(reason error) {
	_ = s.sendPacketLocked(IDDisconnect, []byte(reason.Error()))
}

func encodePlayStatus(status int32) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, uint32(status))
	return body
}
