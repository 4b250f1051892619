package bedrockcrypto

import (
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"bedrock-netcore/internal/neterr"
)

// IdentityData is the client identity recovered from a verified 3-token
// identity chain. UUID is parsed with google/uuid rather than kept as a
// bare string so a malformed "identity" claim is rejected at login
// instead of surfacing later wherever the UUID's string form is compared
// or stored.
type IdentityData struct {
	XUID              string
	DisplayName       string
	UUID              uuid.UUID
	TitleID           string
	IdentityPublicKey string
}

// UserData is the client's device/session metadata from the separate
// "user data" JWT sent alongside the identity chain.
type UserData struct {
	DeviceOS      uint8
	LanguageCode  string
	ServerAddress string
}

type keyTokenClaims struct {
	IdentityPublicKey string `json:"identityPublicKey"`
	jwt.RegisteredClaims
}

type rawIdentityData struct {
	XUID        string `json:"XUID"`
	DisplayName string `json:"displayName"`
	UUID        string `json:"identity"`
	TitleID     string `json:"titleId"`
}

type identityTokenClaims struct {
	ExtraData         rawIdentityData `json:"extraData"`
	IdentityPublicKey string          `json:"identityPublicKey"`
	jwt.RegisteredClaims
}

type userTokenClaims struct {
	DeviceOS      uint8  `json:"DeviceOS"`
	LanguageCode  string `json:"LanguageCode"`
	ServerAddress string `json:"ServerAddress"`
	jwt.RegisteredClaims
}

// keyFuncFromX5U builds a jwt.Keyfunc that trusts whatever public key the
// token's own x5u header names — used only for the first, self-signed
// token in the chain.
func keyFuncFromX5U(token *jwt.Token) (any, error) {
	x5u, _ := token.Header["x5u"].(string)
	if x5u == "" {
		return nil, fmt.Errorf("missing x5u header")
	}
	return decodePublicKeyDER(x5u)
}

// keyFuncFromDER builds a jwt.Keyfunc that trusts exactly the given
// base64-DER-encoded public key, used for every token after the first
// once trust has been established by the previous token's claims.
func keyFuncFromDER(encoded string) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		return decodePublicKeyDER(encoded)
	}
}

var es384Only = jwt.WithValidMethods([]string{"ES384"})

// verifyFirstToken validates the chain's self-signed root token against
// its own x5u-carried key and returns the next token's trusted public
// key.
func verifyFirstToken(token string) (string, error) {
	var claims keyTokenClaims
	if _, err := jwt.ParseWithClaims(token, &claims, keyFuncFromX5U, es384Only); err != nil {
		return "", fmt.Errorf("%w: first identity token: %v", neterr.ErrAuthFailure, err)
	}
	return claims.IdentityPublicKey, nil
}

// verifySecondToken validates the chain's Mojang-issued token against key
// (already established as Mojang's public key by the caller) and returns
// the third token's trusted public key.
func verifySecondToken(token, key string) (string, error) {
	var claims keyTokenClaims
	if _, err := jwt.ParseWithClaims(token, &claims, keyFuncFromDER(key), es384Only); err != nil {
		return "", fmt.Errorf("%w: second identity token: %v", neterr.ErrAuthFailure, err)
	}
	if claims.Issuer != "Mojang" {
		return "", fmt.Errorf("%w: second identity token not issued by Mojang", neterr.ErrAuthFailure)
	}
	return claims.IdentityPublicKey, nil
}

// verifyThirdToken validates the chain's final token, which carries the
// client's actual identity.
func verifyThirdToken(token, key string) (*IdentityData, error) {
	var claims identityTokenClaims
	if _, err := jwt.ParseWithClaims(token, &claims, keyFuncFromDER(key), es384Only); err != nil {
		return nil, fmt.Errorf("%w: third identity token: %v", neterr.ErrAuthFailure, err)
	}
	id, err := uuid.Parse(claims.ExtraData.UUID)
	if err != nil {
		return nil, fmt.Errorf("%w: third identity token: malformed identity UUID: %v", neterr.ErrAuthFailure, err)
	}
	return &IdentityData{
		XUID:              claims.ExtraData.XUID,
		DisplayName:       claims.ExtraData.DisplayName,
		UUID:              id,
		TitleID:           claims.ExtraData.TitleID,
		IdentityPublicKey: claims.IdentityPublicKey,
	}, nil
}

// VerifyIdentityChain validates a client's three-token (or legacy
// one-token, unauthenticated) identity chain in strict order and returns
// the recovered identity. A one-token chain is a "not authenticated"
// failure (ErrAuthFailure); any other length than 1 or 3, including an
// empty chain, is a protocol violation.
func VerifyIdentityChain(chain []string) (*IdentityData, error) {
	switch len(chain) {
	case 0:
		return nil, fmt.Errorf("%w: empty identity chain", neterr.ErrProtocolViolation)
	case 1:
		return nil, fmt.Errorf("%w: client is not signed into Xbox Live", neterr.ErrAuthFailure)
	case 3:
		key, err := verifyFirstToken(chain[0])
		if err != nil {
			return nil, err
		}
		if key != MojangPublicKey {
			return nil, fmt.Errorf("%w: identity chain is not rooted in Mojang's public key", neterr.ErrAuthFailure)
		}
		key, err = verifySecondToken(chain[1], key)
		if err != nil {
			return nil, err
		}
		return verifyThirdToken(chain[2], key)
	default:
		return nil, fmt.Errorf("%w: expected 1 or 3 identity tokens, got %d", neterr.ErrProtocolViolation, len(chain))
	}
}

// VerifyUserData validates the separate user-data JWT against the public
// key carried by the third identity token. The original clears all
// required-claim validation for this token, so time
// bounds are not enforced here either.
func VerifyUserData(token, identityPublicKey string) (*UserData, error) {
	parser := jwt.NewParser(es384Only, jwt.WithoutClaimsValidation())
	var claims userTokenClaims
	if _, err := parser.ParseWithClaims(token, &claims, keyFuncFromDER(identityPublicKey)); err != nil {
		return nil, fmt.Errorf("%w: user data token: %v", neterr.ErrAuthFailure, err)
	}
	return &UserData{
		DeviceOS:      claims.DeviceOS,
		LanguageCode:  claims.LanguageCode,
		ServerAddress: claims.ServerAddress,
	}, nil
}

// IdentityChainFromJSON unmarshals the raw {"chain": [...]} envelope the
// client sends as the first element of the Login packet's token pair.
func IdentityChainFromJSON(raw []byte) ([]string, error) {
	var wrapper struct {
		Chain []string `json:"chain"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: malformed identity chain envelope: %v", neterr.ErrProtocolViolation, err)
	}
	return wrapper.Chain, nil
}
