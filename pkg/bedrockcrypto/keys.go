// Package bedrockcrypto implements the login identity-chain verification
// and packet encryption that makes up the Bedrock session layer: P-384
// ECDH, AES-256-CTR, SHA-256 checksums, and ES384 JWTs, built on the
// standard library's crypto/ecdsa and crypto/ecdh.
package bedrockcrypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"fmt"
)

// MojangPublicKey is Mojang's well-known root identity public key, base64
// (standard, unpadded) DER, used to verify the second token in a client's
// identity chain is genuinely rooted in Xbox Live. It is a var, not a
// const, only so tests can substitute a throwaway test root instead of
// the real key (which nobody outside Mojang holds the private half of).
var MojangPublicKey = "MHYwEAYHKoZIzj0CAQYFK4EEACIDYgAE8ELkixyLcwlZryUQcu1TvPOmI2B7vX83ndnWRUaXm74wFfa5f/lwQNTfrLVHa2PmenpGI6JhIMUJaWZrjmMj90NoKNFSNBuKdm8rYiXsfaz3K36x/1U26HpG0ZxK/V1V"

// base64Engine is "no padding, standard alphabet" for every base64 field
// in the handshake (salt, x5u, public keys).
var base64Engine = base64.RawStdEncoding

// generateSessionKey produces a fresh P-384 ECDSA keypair for one
// encryption handshake. The same key is reused both to sign the
// handshake JWT (ES384) and, via its ECDH method, to perform the key
// exchange.
func generateSessionKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
}

// encodePublicKeyDER renders pub as base64(DER), the form carried in the
// JWT's x5u header and in the client's identityPublicKey claims.
func encodePublicKeyDER(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("bedrockcrypto: marshal public key: %w", err)
	}
	return base64Engine.EncodeToString(der), nil
}

// decodePublicKeyDER is the inverse of encodePublicKeyDER, used to recover
// a peer's public key from a JWT's x5u header or identityPublicKey claim.
func decodePublicKeyDER(encoded string) (*ecdsa.PublicKey, error) {
	der, err := base64Engine.DecodeString(encoded)
	if err != nil {
		// The client's own base64 padding is inconsistent in the wild;
		// fall back to standard padded decoding before giving up.
		if der, err = base64.StdEncoding.DecodeString(encoded); err != nil {
			return nil, fmt.Errorf("bedrockcrypto: decode public key base64: %w", err)
		}
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("bedrockcrypto: parse public key DER: %w", err)
	}
	ecKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("bedrockcrypto: public key is not ECDSA")
	}
	return ecKey, nil
}
