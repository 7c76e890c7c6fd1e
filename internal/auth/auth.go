// Package auth issues and verifies the bearer tokens used by the HTTP and
// gRPC APIs, and checks client credentials at login.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenTTL is the token lifetime when none is configured
const DefaultTokenTTL = 24 * time.Hour

// AdminClientID is granted admin rights when no client list is configured
const AdminClientID = "admin"

var (
	// ErrEmptyClientID is returned when a token is requested for an empty client ID
	ErrEmptyClientID = errors.New("clientID cannot be empty")
	// ErrEmptyToken is returned when validating an empty token
	ErrEmptyToken = errors.New("token cannot be empty")
	// ErrInvalidToken is returned when a token fails validation
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidCredentials is returned when login fails
	ErrInvalidCredentials = errors.New("invalid client credentials")
)

// Claims represents the JWT token claims
type Claims struct {
	ClientID string `json:"client_id"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth handles JWT token creation and validation
type JWTAuth struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewJWTAuth creates a token handler signing with secretKey.
// A non-positive ttl selects DefaultTokenTTL.
func NewJWTAuth(secretKey string, ttl time.Duration) *JWTAuth {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTAuth{
		secretKey: []byte(secretKey),
		ttl:       ttl,
		now:       time.Now,
	}
}

// GenerateToken creates a signed token for a client
func (j *JWTAuth) GenerateToken(clientID string, isAdmin bool) (string, time.Time, error) {
	if clientID == "" {
		return "", time.Time{}, ErrEmptyClientID
	}

	now := j.now()
	expiresAt := now.Add(j.ttl)

	claims := Claims{
		ClientID: clientID,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateToken validates a token, with or without a "Bearer " prefix, and returns its claims
func (j *JWTAuth) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ClientID == "" {
		return nil, fmt.Errorf("%w: missing client id", ErrInvalidToken)
	}
	return claims, nil
}

// Client is a registered client allowed to log in.
type Client struct {
	// PasswordHash is a bcrypt hash, empty when no password is required
	PasswordHash string
	Admin        bool
}

// Authenticator checks login credentials against a client registry.
// With an empty registry any client ID may log in, and only AdminClientID is an admin.
type Authenticator struct {
	clients map[string]Client
}

// NewAuthenticator creates an Authenticator over clients.
func NewAuthenticator(clients map[string]Client) *Authenticator {
	cp := make(map[string]Client, len(clients))
	for id, c := range clients {
		cp[id] = c
	}
	return &Authenticator{clients: cp}
}

// Authenticate verifies a client ID and password and reports whether the client is an admin.
func (a *Authenticator) Authenticate(clientID, password string) (bool, error) {
	if strings.TrimSpace(clientID) == "" {
		return false, ErrEmptyClientID
	}
	if len(a.clients) == 0 {
		return clientID == AdminClientID, nil
	}

	client, ok := a.clients[clientID]
	if !ok {
		return false, ErrInvalidCredentials
	}
	if client.PasswordHash == "" {
		return client.Admin, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.PasswordHash), []byte(password)); err != nil {
		return false, ErrInvalidCredentials
	}
	return client.Admin, nil
}

// HashPassword returns a bcrypt hash suitable for a client's password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
