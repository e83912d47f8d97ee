package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"orderflow-relay/pkg/dhan"
)

// TokenSource supplies the access token sent on every feed dial.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a pre-issued access token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("feed: empty access token")
	}
	return string(s), nil
}

// SessionGenerator exchanges a PIN and TOTP code for a broker session.
// *dhan.Client implements it.
type SessionGenerator interface {
	GenerateSession(ctx context.Context, pin, totp string) (dhan.Session, error)
}

// TOTPLogin logs in with a time-based one-time code and caches the token
// until shortly before it expires.
type TOTPLogin struct {
	Login  SessionGenerator
	PIN    string
	Secret string
	Now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

const tokenRefreshMargin = 5 * time.Minute

func (l *TOTPLogin) Token(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	if l.token != "" && now.Before(l.expires.Add(-tokenRefreshMargin)) {
		return l.token, nil
	}

	code, err := totp.GenerateCode(l.Secret, now)
	if err != nil {
		return "", fmt.Errorf("feed: totp: %w", err)
	}
	sess, err := l.Login.GenerateSession(ctx, l.PIN, code)
	if err != nil {
		return "", fmt.Errorf("feed: login: %w", err)
	}
	l.token = sess.AccessToken
	l.expires = sess.ExpiresAt
	return l.token, nil
}
