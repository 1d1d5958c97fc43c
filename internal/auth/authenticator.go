package auth

import (
	"errors"
	"fmt"
	"time"
)

// minSecretLength is the shortest HS256 signing secret accepted.
const minSecretLength = 32

// Options configures an Authenticator.
type Options struct {
	Users    []User
	Secret   string
	TokenTTL time.Duration
}

// Token is the result of a successful login.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
	Role        Role
}

// Authenticator checks configured credentials and issues access tokens.
// It is immutable after construction and safe for concurrent use.
type Authenticator struct {
	users  map[string]User
	secret string
	ttl    time.Duration

	// dummyHash is verified for unknown usernames so a miss costs the same
	// as a wrong password.
	dummyHash string

	now func() time.Time
}

// NewAuthenticator validates opts and returns an Authenticator.
func NewAuthenticator(opts Options) (*Authenticator, error) {
	if len(opts.Secret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d characters", minSecretLength)
	}
	if len(opts.Users) == 0 {
		return nil, errors.New("at least one user is required")
	}

	a := &Authenticator{
		users:  make(map[string]User, len(opts.Users)),
		secret: opts.Secret,
		ttl:    opts.TokenTTL,
		now:    time.Now,
	}
	if a.ttl <= 0 {
		a.ttl = DefaultTokenTTL
	}

	for _, u := range opts.Users {
		if !IsValidUsername(u.Username) {
			return nil, fmt.Errorf("invalid username %q", u.Username)
		}
		if _, dup := a.users[u.Username]; dup {
			return nil, fmt.Errorf("duplicate username %q", u.Username)
		}
		if !IsValidRole(u.Role) {
			return nil, fmt.Errorf("user %q: invalid role %q", u.Username, u.Role)
		}
		if !IsPasswordHash(u.PasswordHash) {
			return nil, fmt.Errorf("user %q: password_hash is not an argon2id hash", u.Username)
		}
		a.users[u.Username] = u
		if a.dummyHash == "" {
			a.dummyHash = u.PasswordHash
		}
	}

	return a, nil
}

// Login checks username and password and returns a signed access token.
// Unknown users and wrong passwords both return ErrInvalidCredentials.
func (a *Authenticator) Login(username, password string) (Token, error) {
	user, ok := a.users[username]
	hash := user.PasswordHash
	if !ok {
		hash = a.dummyHash
	}

	match, err := VerifyPassword(password, hash)
	if err != nil || !match || !ok {
		return Token{}, ErrInvalidCredentials
	}

	now := a.now()
	signed, err := GenerateAccessToken(user, a.secret, now, a.ttl)
	if err != nil {
		return Token{}, err
	}

	return Token{
		AccessToken: signed,
		ExpiresAt:   now.Add(a.ttl),
		Role:        user.Role,
	}, nil
}

// Verify parses an access token. Tokens for users no longer configured are
// rejected.
func (a *Authenticator) Verify(tokenString string) (*Claims, error) {
	claims, err := ParseToken(tokenString, a.secret)
	if err != nil {
		return nil, err
	}
	if _, ok := a.users[claims.Subject]; !ok {
		return nil, fmt.Errorf("%w: unknown user %q", ErrTokenInvalid, claims.Subject)
	}
	return claims, nil
}

// TokenTTL returns the lifetime of issued access tokens.
func (a *Authenticator) TokenTTL() time.Duration {
	return a.ttl
}
