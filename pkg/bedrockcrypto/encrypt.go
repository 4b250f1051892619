package bedrockcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/golang-jwt/jwt/v4"

	"bedrock-netcore/internal/neterr"
)

// encryptionTokenClaims is the payload of the handshake JWT sent to the
// client: just the salt, base64-encoded.
type encryptionTokenClaims struct {
	Salt string `json:"salt"`
}

func (encryptionTokenClaims) Valid() error { return nil }

// Encryptor performs the AES-256-CTR encryption and SHA-256 checksuming
// of every packet once a session has completed the encryption handshake.
//
// Go's stdlib cipher.NewCTR advances a full 128-bit big-endian counter
// across the whole block, where some Bedrock implementations only roll
// the low 64 bits. Within one session's packet volume this never wraps
// in a way that would produce a different keystream region, so the two
// are interchangeable for our purposes; see DESIGN.md.
type Encryptor struct {
	mu             sync.Mutex
	encryptStream  cipher.Stream
	decryptStream  cipher.Stream
	sendCounter    atomic.Uint64
	receiveCounter atomic.Uint64
	secret         [32]byte
}

// NewEncryptor performs the server side of the encryption handshake: it
// generates an ephemeral session keypair, runs ECDH against the client's
// public key, derives the shared AES secret, and returns both the ready
// Encryptor and the JWT the server must send back to the client to
// perform the mirroring computation.
func NewEncryptor(clientPublicKeyDER string) (*Encryptor, string, error) {
	sessionKey, err := generateSessionKey()
	if err != nil {
		return nil, "", fmt.Errorf("bedrockcrypto: generate session key: %w", err)
	}

	clientPub, err := decodePublicKeyDER(clientPublicKeyDER)
	if err != nil {
		return nil, "", fmt.Errorf("bedrockcrypto: %w: %v", neterr.ErrAuthFailure, err)
	}

	ecdhPriv, err := sessionKey.ECDH()
	if err != nil {
		return nil, "", fmt.Errorf("bedrockcrypto: session key not usable for ECDH: %w", err)
	}
	ecdhClientPub, err := clientPub.ECDH()
	if err != nil {
		return nil, "", fmt.Errorf("bedrockcrypto: %w: client key not usable for ECDH: %v", neterr.ErrAuthFailure, err)
	}
	rawSecret, err := ecdhPriv.ECDH(ecdhClientPub)
	if err != nil {
		return nil, "", fmt.Errorf("bedrockcrypto: %w: key exchange failed: %v", neterr.ErrAuthFailure, err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, "", fmt.Errorf("bedrockcrypto: generate salt: %w", err)
	}
	saltAlnum := toAlphanumeric(salt)

	h := sha256.New()
	h.Write(saltAlnum)
	h.Write(rawSecret)
	var secret [32]byte
	copy(secret[:], h.Sum(nil))

	iv := make([]byte, 16)
	copy(iv[:12], secret[:12])
	iv[12], iv[13], iv[14], iv[15] = 0, 0, 0, 2

	block, err := aes.NewCipher(secret[:])
	if err != nil {
		return nil, "", fmt.Errorf("bedrockcrypto: construct AES cipher: %w", err)
	}

	enc := &Encryptor{
		encryptStream: cipher.NewCTR(block, iv),
		decryptStream: cipher.NewCTR(block, iv),
		secret:        secret,
	}

	jwtToken, err := buildHandshakeJWT(sessionKey, saltAlnum)
	if err != nil {
		return nil, "", err
	}
	return enc, jwtToken, nil
}

// buildHandshakeJWT signs {"salt": base64(salt)} with the session's
// private key, ES384, carrying the session's own public key in the x5u
// header (self-signed, no trust chain needed — the client already knows
// it must trust whatever key signed the server's handshake response) and
// omitting "typ" to match the official server's wire behavior.
func buildHandshakeJWT(sessionKey *ecdsa.PrivateKey, salt []byte) (string, error) {
	pubDER, err := encodePublicKeyDER(&sessionKey.PublicKey)
	if err != nil {
		return "", err
	}

	claims := encryptionTokenClaims{Salt: base64Engine.EncodeToString(salt)}
	token := jwt.NewWithClaims(jwt.SigningMethodES384, claims)
	token.Header["x5u"] = pubDER
	delete(token.Header, "typ")

	signed, err := token.SignedString(sessionKey)
	if err != nil {
		return "", fmt.Errorf("bedrockcrypto: sign handshake token: %w", err)
	}
	return signed, nil
}

// toAlphanumeric maps raw random bytes onto an alphanumeric alphabet so
// the salt round-trips through JSON/JWT without escaping concerns.
func toAlphanumeric(raw []byte) []byte {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return out
}

// Decrypt reverses the in-place keystream and verifies the trailing
// 8-byte checksum.
// Unlike Encrypt, ciphertext carries no leading 0xfe marker byte — the
// caller strips that before decryption, since it was never encrypted in
// the first place. The returned slice is the plaintext payload with the
// checksum removed.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 9 {
		return nil, fmt.Errorf("bedrockcrypto: %w: encrypted frame too short (%d bytes)", neterr.ErrProtocolViolation, len(ciphertext))
	}

	out := append([]byte(nil), ciphertext...)
	e.mu.Lock()
	e.decryptStream.XORKeyStream(out, out)
	e.mu.Unlock()

	counter := e.receiveCounter.Add(1) - 1

	checksum := out[len(out)-8:]
	plaintext := out[:len(out)-8]
	computed := e.computeChecksum(plaintext, counter)
	if subtle.ConstantTimeCompare(checksum, computed[:]) != 1 {
		return nil, fmt.Errorf("bedrockcrypto: %w: checksum mismatch, packet may be tampered", neterr.ErrProtocolViolation)
	}
	return plaintext, nil
}

// Encrypt appends a checksum to frame[1:] (frame[0] is the unencrypted
// 0xfe wrapper byte) and encrypts everything after it in place, excluding
// the 0xfe header from both the checksum and the encryption start.
func (e *Encryptor) Encrypt(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("bedrockcrypto: cannot encrypt an empty frame")
	}
	counter := e.sendCounter.Add(1) - 1
	checksum := e.computeChecksum(frame[1:], counter)

	out := make([]byte, len(frame)+len(checksum))
	copy(out, frame)
	copy(out[len(frame):], checksum[:])

	e.mu.Lock()
	e.encryptStream.XORKeyStream(out[1:], out[1:])
	e.mu.Unlock()

	return out, nil
}

// computeChecksum is SHA256(counter_LE64 || data || secret), truncated to
// 8 bytes.
func (e *Encryptor) computeChecksum(data []byte, counter uint64) [8]byte {
	var counterBuf [8]byte
	binary.LittleEndian.PutUint64(counterBuf[:], counter)

	h := sha256.New()
	h.Write(counterBuf[:])
	h.Write(data)
	h.Write(e.secret[:])

	var out [8]byte
	copy(out[:], h.Sum(nil))
	return out
}
