package dhan

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"
)

// Session is a freshly generated access token.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiryTime  string `json:"expiryTime"`
}

// GenerateSession exchanges client id, PIN and a current TOTP code for an
// access token. On success the client starts using the new token.
func (c *Client) GenerateSession(ctx context.Context, pin, totp string) (Session, error) {
	q := url.Values{}
	q.Set("dhanClientId", c.clientID)
	q.Set("pin", pin)
	q.Set("totp", totp)

	var resp tokenResponse
	if err := c.doRequest(ctx, http.MethodPost, c.authURL, "auth.token", q, nil, &resp); err != nil {
		return Session{}, err
	}
	if resp.AccessToken == "" {
		return Session{}, errors.New("dhan: login response missing accessToken")
	}

	s := Session{AccessToken: resp.AccessToken}
	if resp.ExpiryTime != "" {
		if t, err := parseTimestamp(resp.ExpiryTime); err == nil {
			s.ExpiresAt = t
		}
	}
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = time.Now().Add(24 * time.Hour)
	}
	c.SetAccessToken(s.AccessToken)
	return s, nil
}
