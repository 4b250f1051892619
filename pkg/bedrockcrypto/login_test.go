package bedrockcrypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// signedToken builds an ES384 JWT signed by signingKey, with claims
// marshaled from claims and an x5u header pointing at keyDER (used for
// the self-signed first token; later tokens ignore their own x5u since
// verifySecondToken and verifyThirdToken trust the previous token's claim
// instead).
func signedToken(t *testing.T, signingKey *ecdsa.PrivateKey, x5uKeyDER string, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES384, claims)
	if x5uKeyDER != "" {
		token.Header["x5u"] = x5uKeyDER
	}
	signed, err := token.SignedString(signingKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func genKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := encodePublicKeyDER(&priv.PublicKey)
	if err != nil {
		t.Fatalf("encode key: %v", err)
	}
	return priv, der
}

func TestVerifyIdentityChainRejectsWrongLengths(t *testing.T) {
	if _, err := VerifyIdentityChain(nil); err == nil {
		t.Fatal("expected error for empty chain")
	}
	if _, err := VerifyIdentityChain([]string{"only-one"}); err == nil {
		t.Fatal("expected error for single-token (unauthenticated) chain")
	}
	if _, err := VerifyIdentityChain([]string{"a", "b"}); err == nil {
		t.Fatal("expected error for a two-token chain")
	}
	if _, err := VerifyIdentityChain([]string{"a", "b", "c", "d"}); err == nil {
		t.Fatal("expected error for a four-token chain")
	}
}

func TestVerifyIdentityChainRejectsUnrootedFirstToken(t *testing.T) {
	rootKey, rootDER := genKey(t)
	secondKey, secondDER := genKey(t)
	_ = secondKey

	first := signedToken(t, rootKey, rootDER, keyTokenClaims{IdentityPublicKey: secondDER})
	// Second and third are never reached because the root check fails first.
	if _, err := VerifyIdentityChain([]string{first, "unused", "unused"}); err == nil {
		t.Fatal("expected rejection: first token's key is not Mojang's public key")
	}
}

func TestVerifyIdentityChainAcceptsValidThreeTokenChain(t *testing.T) {
	rootKey, rootDER := genKey(t)
	mojangKey, mojangDER := genKey(t)
	thirdPartyKey, thirdPartyDER := genKey(t)

	// Monkeypatch: point MojangPublicKey at our test root so the chain of
	// trust check passes without needing the real Mojang key's private
	// half (which nobody outside Mojang possesses).
	original := MojangPublicKey
	MojangPublicKey = mojangDER
	defer func() { MojangPublicKey = original }()

	// The first token is self-signed by rootKey (its x5u must decode to
	// rootKey's own public key) and carries mojangDER as the payload's
	// identityPublicKey, handing trust to the test root standing in for
	// Mojang's real key.
	firstToken := signedToken(t, rootKey, rootDER, keyTokenClaims{IdentityPublicKey: mojangDER})

	secondToken := signedToken(t, mojangKey, "", keyTokenClaims{
		IdentityPublicKey: thirdPartyDER,
		RegisteredClaims:  jwt.RegisteredClaims{Issuer: "Mojang"},
	})

	thirdToken := signedToken(t, thirdPartyKey, "", identityTokenClaims{
		ExtraData: rawIdentityData{
			XUID:        "2535400000000000",
			DisplayName: "Steve",
			UUID:        "00000000-0000-0000-0000-000000000000",
			TitleID:     "896928775",
		},
		IdentityPublicKey: thirdPartyDER,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	identity, err := VerifyIdentityChain([]string{firstToken, secondToken, thirdToken})
	if err != nil {
		t.Fatalf("expected a valid chain to verify, got: %v", err)
	}
	if identity.DisplayName != "Steve" || identity.XUID != "2535400000000000" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestVerifyUserDataAcceptsTokenSignedByThirdTokenKey(t *testing.T) {
	key, der := genKey(t)
	token := signedToken(t, key, "", userTokenClaims{
		DeviceOS:      7,
		LanguageCode:  "en_US",
		ServerAddress: "127.0.0.1:19132",
	})

	data, err := VerifyUserData(token, der)
	if err != nil {
		t.Fatalf("VerifyUserData: %v", err)
	}
	if data.LanguageCode != "en_US" || data.DeviceOS != 7 {
		t.Fatalf("unexpected user data: %+v", data)
	}
}

func TestIdentityChainFromJSON(t *testing.T) {
	chain, err := IdentityChainFromJSON([]byte(`{"chain":["a","b","c"]}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(chain) != 3 || chain[1] != "b" {
		t.Fatalf("unexpected chain: %+v", chain)
	}
}
