package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/neilberkman/chatsync/internal/core/apperr"
	"github.com/neilberkman/chatsync/internal/core/models"
)

// refreshSkew refreshes access tokens this long before they expire
const refreshSkew = 30 * time.Second

const hasuraClaimsKey = "https://hasura.io/jwt/claims"

// HostedProvider talks to an Nhost-style auth service
type HostedProvider struct {
	baseURL string
	client  *http.Client
	file    *SessionFile
	now     func() time.Time

	mu      sync.Mutex
	session *StoredSession
	loaded  bool
	listeners

	// refreshes collapses concurrent refreshes of the same refresh token;
	// the service rotates refresh tokens, so a second use would be refused
	refreshes singleflight.Group
}

// NewHostedProvider returns a provider for the auth service at baseURL
func NewHostedProvider(baseURL string, file *SessionFile, client *http.Client) *HostedProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HostedProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		file:    file,
		now:     time.Now,
	}
}

type nhostUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type nhostSession struct {
	AccessToken          string     `json:"accessToken"`
	AccessTokenExpiresIn int        `json:"accessTokenExpiresIn"`
	RefreshToken         string     `json:"refreshToken"`
	User                 *nhostUser `json:"user"`
}

type nhostSessionPayload struct {
	Session *nhostSession `json:"session"`
}

// statusError is a non-2xx answer from the auth service
type statusError struct {
	path    string
	code    int
	message string
}

func (e *statusError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("%s: %s (%d)", e.path, e.message, e.code)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.path, e.code)
}

type nhostError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// SignUp registers an account. Services that require email verification
// return no session; the identity is then nil.
func (p *HostedProvider) SignUp(ctx context.Context, email, password, displayName string) (*models.Identity, error) {
	const op = "auth.sign_up"
	if err := models.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := models.ValidatePassword(password); err != nil {
		return nil, err
	}
	body := map[string]interface{}{"email": email, "password": password}
	if displayName != "" {
		body["options"] = map[string]string{"displayName": displayName}
	}
	var payload nhostSessionPayload
	if err := p.post(ctx, "/signup/email-password", body, &payload); err != nil {
		return nil, apperr.Remote(op, err)
	}
	if payload.Session == nil {
		return nil, nil
	}
	return p.adopt(payload.Session)
}

// SignIn exchanges credentials for a session
func (p *HostedProvider) SignIn(ctx context.Context, email, password string) (*models.Identity, error) {
	const op = "auth.sign_in"
	if err := models.ValidateEmail(email); err != nil {
		return nil, err
	}
	var payload nhostSessionPayload
	err := p.post(ctx, "/signin/email-password", map[string]string{"email": email, "password": password}, &payload)
	if err != nil {
		return nil, apperr.Remote(op, err)
	}
	if payload.Session == nil {
		return nil, apperr.Remotef(op, "sign-in returned no session (email verification or MFA pending)")
	}
	return p.adopt(payload.Session)
}

// adopt stores a fresh session and announces the identity
func (p *HostedProvider) adopt(ns *nhostSession) (*models.Identity, error) {
	stored, err := p.toStored(ns, nil)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.session = stored
	p.loaded = true
	p.mu.Unlock()
	if err := p.file.Save(stored); err != nil {
		return nil, err
	}
	identity := stored.Identity()
	p.notify(identity)
	return identity, nil
}

func (p *HostedProvider) toStored(ns *nhostSession, previous *StoredSession) (*StoredSession, error) {
	claims, err := parseClaims(ns.AccessToken)
	if err != nil {
		return nil, err
	}
	s := &StoredSession{
		Backend:      "hosted",
		AccessToken:  ns.AccessToken,
		RefreshToken: ns.RefreshToken,
		UserID:       claims.userID,
		ExpiresAt:    claims.expiresAt,
	}
	if s.ExpiresAt.IsZero() && ns.AccessTokenExpiresIn > 0 {
		s.ExpiresAt = p.now().Add(time.Duration(ns.AccessTokenExpiresIn) * time.Second)
	}
	if ns.User != nil {
		if s.UserID == "" {
			s.UserID = ns.User.ID
		}
		s.Email = ns.User.Email
		s.DisplayName = ns.User.DisplayName
	} else if previous != nil {
		s.Email = previous.Email
		s.DisplayName = previous.DisplayName
	}
	if s.UserID == "" {
		return nil, fmt.Errorf("access token carries no user id")
	}
	return s, nil
}

type tokenClaims struct {
	userID    string
	expiresAt time.Time
}

// parseClaims reads identity and expiry without verifying the signature.
// The service verifies tokens; the client only needs to know when to refresh.
func parseClaims(token string) (tokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return tokenClaims{}, fmt.Errorf("malformed access token: %w", err)
	}
	var tc tokenClaims
	if hasura, ok := claims[hasuraClaimsKey].(map[string]interface{}); ok {
		if id, ok := hasura["x-hasura-user-id"].(string); ok {
			tc.userID = id
		}
	}
	if tc.userID == "" {
		if sub, err := claims.GetSubject(); err == nil {
			tc.userID = sub
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		tc.expiresAt = exp.Time.UTC()
	}
	return tc, nil
}

func (p *HostedProvider) current() (*StoredSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		s, err := p.file.Load()
		if err != nil {
			return nil, err
		}
		if s != nil && s.Backend != "hosted" {
			s = nil
		}
		p.session = s
		p.loaded = true
	}
	if p.session == nil {
		return nil, nil
	}
	cp := *p.session
	return &cp, nil
}

// AccessToken returns a valid access token, refreshing it when it is about
// to expire. A failed refresh ends the session and notifies listeners.
func (p *HostedProvider) AccessToken(ctx context.Context) (string, error) {
	s, err := p.current()
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", apperr.Unauthorized("auth.access_token")
	}
	if p.fresh(s) {
		return s.AccessToken, nil
	}

	// The shared refresh outlives any one caller's context
	ch := p.refreshes.DoChan(s.RefreshToken, func() (interface{}, error) {
		return p.refresh(context.WithoutCancel(ctx), s)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*StoredSession).AccessToken, nil
	case <-ctx.Done():
		return "", apperr.Remote("auth.refresh", ctx.Err())
	}
}

func (p *HostedProvider) fresh(s *StoredSession) bool {
	return s.ExpiresAt.IsZero() || p.now().Add(refreshSkew).Before(s.ExpiresAt)
}

func (p *HostedProvider) refresh(ctx context.Context, s *StoredSession) (*StoredSession, error) {
	const op = "auth.refresh"

	// A refresh that finished after s was read has already rotated the token
	cur, err := p.current()
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, apperr.Unauthorized(op)
	}
	if cur.RefreshToken != s.RefreshToken && p.fresh(cur) {
		return cur, nil
	}

	var ns nhostSession
	err = p.post(ctx, "/token", map[string]string{"refreshToken": s.RefreshToken}, &ns)
	var status *statusError
	if err != nil && !(errors.As(err, &status) && status.code < 500) {
		// Transport failure or server error: the token may still be good
		return nil, apperr.Remote(op, err)
	}
	if err == nil && ns.AccessToken == "" {
		err = fmt.Errorf("token endpoint returned no access token")
	}
	var next *StoredSession
	if err == nil {
		next, err = p.toStored(&ns, s)
	}
	if err != nil {
		p.expire(s.RefreshToken)
		return nil, apperr.Remote(op, err)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = s.RefreshToken
	}

	p.mu.Lock()
	switch {
	case p.session == nil:
		// Signed out while the refresh was in flight
		p.mu.Unlock()
		return nil, apperr.Unauthorized(op)
	case p.session.RefreshToken != s.RefreshToken:
		// Replaced by a newer sign-in; keep it
		p.mu.Unlock()
		return next, nil
	}
	p.session = next
	p.mu.Unlock()
	if err := p.file.Save(next); err != nil {
		return nil, err
	}
	return next, nil
}

// expire drops the session after the service refused to refresh it, unless
// the refused token has since been replaced
func (p *HostedProvider) expire(refreshToken string) {
	p.mu.Lock()
	if p.session == nil || p.session.RefreshToken != refreshToken {
		p.mu.Unlock()
		return
	}
	p.session = nil
	p.mu.Unlock()
	_ = p.file.Clear()
	p.notify(nil)
}

// CurrentIdentity returns the signed-in identity, refreshing if needed
func (p *HostedProvider) CurrentIdentity(ctx context.Context) (*models.Identity, error) {
	s, err := p.current()
	if err != nil || s == nil {
		return nil, err
	}
	if _, err := p.AccessToken(ctx); err != nil {
		if apperr.IsUnauthorized(err) {
			return nil, nil
		}
		// The session was dropped if the service rejected the refresh
		if again, _ := p.current(); again == nil {
			return nil, nil
		}
		return nil, err
	}
	s, err = p.current()
	if err != nil || s == nil {
		return nil, err
	}
	return s.Identity(), nil
}

// SignOut revokes the refresh token remotely and forgets the session.
// The local session is dropped even if the remote call fails.
func (p *HostedProvider) SignOut(ctx context.Context) error {
	s, err := p.current()
	if err != nil {
		return err
	}
	var remoteErr error
	if s != nil && s.RefreshToken != "" {
		remoteErr = p.post(ctx, "/signout", map[string]interface{}{"refreshToken": s.RefreshToken, "all": false}, nil)
	}

	p.mu.Lock()
	p.session = nil
	p.loaded = true
	p.mu.Unlock()
	if err := p.file.Clear(); err != nil {
		return err
	}
	p.notify(nil)
	return remoteErr
}

// OnSessionChange registers fn for sign-in, sign-out and expiry
func (p *HostedProvider) OnSessionChange(fn func(*models.Identity)) func() {
	return p.add(fn)
}

func (p *HostedProvider) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		se := &statusError{path: path, code: resp.StatusCode}
		var e nhostError
		if json.Unmarshal(raw, &e) == nil {
			se.message = e.Message
		}
		return se
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: invalid response: %w", path, err)
	}
	return nil
}
