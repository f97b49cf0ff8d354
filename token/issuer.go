// Package token mints and validates the engine's credentials: signed,
// self-contained access tokens and opaque, store-validated refresh token
// values. Access token validation is stateless; nothing in this package
// touches the credential store.
package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the access token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs access tokens with EdDSA. Default.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs access tokens with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

// KindAccess is the token kind discriminator carried in access claims.
const KindAccess = "access"

var (
	// ErrTokenInvalid is returned for malformed tokens, bad signatures,
	// wrong algorithms, and wrong token kinds.
	ErrTokenInvalid = errors.New("token: invalid")
	// ErrTokenExpired is returned when the token signature is valid but
	// the expiry has passed.
	ErrTokenExpired = errors.New("token: expired")
)

// Config holds the signing contract for the issuer. Clock is injected so
// tests can simulate expiry deterministically; a nil Clock uses time.Now.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	Clock         func() time.Time
}

// Issuer mints and verifies access tokens. Immutable after construction
// and safe for concurrent use.
type Issuer struct {
	config Config
	clock  func() time.Time
}

// Claims are the logical fields carried by an access token.
type Claims struct {
	SubjectID string `json:"sub"`
	RoleID    string `json:"role"`
	Kind      string `json:"kind"`
	jwt.RegisteredClaims
}

// NewIssuer validates the signing configuration and returns an Issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("token: access TTL must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token: invalid leeway")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("token: hs256 requires a private key")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("token: unsupported signing method %q", cfg.SigningMethod)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Issuer{config: cfg, clock: clock}, nil
}

// IssueAccess signs a new access token for the subject/role pair.
func (i *Issuer) IssueAccess(subjectID, roleID string) (string, error) {
	if strings.TrimSpace(subjectID) == "" {
		return "", errors.New("token: empty subject id")
	}
	now := i.clock()
	claims := Claims{
		SubjectID: subjectID,
		RoleID:    roleID,
		Kind:      KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.AccessTTL)),
			Issuer:    i.config.Issuer,
		},
	}

	tok := jwt.NewWithClaims(i.method(), claims)
	key, err := i.signKey()
	if err != nil {
		return "", err
	}
	return tok.SignedString(key)
}

// ValidateAccess verifies signature, expiry, and token kind. It is a pure
// function of the token string, the key material, and the injected clock.
func (i *Issuer) ValidateAccess(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method().Alg()}),
		jwt.WithTimeFunc(i.clock),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return i.verifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Kind != KindAccess {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (i *Issuer) method() jwt.SigningMethod {
	if i.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (i *Issuer) signKey() (interface{}, error) {
	if i.config.SigningMethod == MethodHS256 {
		return i.config.PrivateKey, nil
	}
	return parseEdPrivateKey(i.config.PrivateKey)
}

func (i *Issuer) verifyKey() (interface{}, error) {
	if i.config.SigningMethod == MethodHS256 {
		return i.config.PrivateKey, nil
	}
	return parseEdPublicKey(i.config.PublicKey)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 public key type")
	}
	return edKey, nil
}
