package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
	issuer      = "studysprint"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Username string `json:"username"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// UserID parses the numeric subject.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// Tokens signs and verifies RS256 access/refresh pairs.
type Tokens struct {
	priv       *rsa.PrivateKey
	pub        *rsa.PublicKey
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokens loads the key from privatePEM (PKCS#1 or PKCS#8); an empty PEM
// generates an ephemeral key, so tokens do not survive a restart.
func NewTokens(privatePEM string, accessTTL, refreshTTL time.Duration) (*Tokens, error) {
	key, err := loadKey(privatePEM)
	if err != nil {
		return nil, err
	}
	return &Tokens{priv: key, pub: &key.PublicKey, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}, nil
}

func loadKey(privatePEM string) (*rsa.PrivateKey, error) {
	if strings.TrimSpace(privatePEM) == "" {
		return rsa.GenerateKey(rand.Reader, 2048)
	}
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, errors.New("JWT_PRIVATE_PEM: no PEM block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		key.Precompute()
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("JWT_PRIVATE_PEM: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("JWT_PRIVATE_PEM: not an RSA key")
	}
	key.Precompute()
	return key, nil
}

func (t *Tokens) issue(uid int64, username, typ string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{
		Username: username,
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(uid, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(t.priv)
}

func (t *Tokens) Access(uid int64, username string) (string, error) {
	return t.issue(uid, username, TypeAccess, t.accessTTL)
}

type Pair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (t *Tokens) Pair(uid int64, username string) (Pair, error) {
	access, err := t.Access(uid, username)
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := t.issue(uid, username, TypeRefresh, t.refreshTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

// Verify checks signature, expiry and that the token is of type typ.
func (t *Tokens) Verify(raw, typ string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodRS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.pub, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Type != typ {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return claims, nil
}
