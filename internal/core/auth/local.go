package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/neilberkman/chatsync/internal/core/apperr"
	"github.com/neilberkman/chatsync/internal/core/db"
	"github.com/neilberkman/chatsync/internal/core/models"
)

// DefaultLocalSessionTTL is how long a local sign-in lasts
const DefaultLocalSessionTTL = 30 * 24 * time.Hour

// ErrInvalidCredentials is returned for an unknown email or wrong password
var ErrInvalidCredentials = errors.New("invalid email or password")

// LocalProvider authenticates against the users table of the local store
type LocalProvider struct {
	store *db.DB
	file  *SessionFile
	ttl   time.Duration
	cost  int
	listeners
}

// NewLocalProvider returns a provider that persists its session in file
func NewLocalProvider(store *db.DB, file *SessionFile) *LocalProvider {
	return &LocalProvider{
		store: store,
		file:  file,
		ttl:   DefaultLocalSessionTTL,
		cost:  bcrypt.DefaultCost,
	}
}

// SignUp creates an account and signs it in
func (p *LocalProvider) SignUp(ctx context.Context, email, password, displayName string) (*models.Identity, error) {
	const op = "auth.sign_up"
	if err := models.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := models.ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if displayName = strings.TrimSpace(displayName); displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}
	if _, err := p.store.CreateUser(ctx, email, displayName, string(hash)); err != nil {
		if errors.Is(err, db.ErrEmailTaken) {
			return nil, apperr.Validation(op, "email", "already registered")
		}
		return nil, apperr.Remote(op, err)
	}
	return p.SignIn(ctx, email, password)
}

// SignIn checks the password and starts a session
func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*models.Identity, error) {
	const op = "auth.sign_in"
	if err := models.ValidateEmail(email); err != nil {
		return nil, err
	}

	user, err := p.store.UserByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.Remote(op, ErrInvalidCredentials)
	}
	if err != nil {
		return nil, apperr.Remote(op, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Remote(op, ErrInvalidCredentials)
	}

	session, err := p.store.CreateAuthSession(ctx, user.ID, uuid.NewString(), p.ttl)
	if err != nil {
		return nil, apperr.Remote(op, err)
	}
	stored := &StoredSession{
		Backend:     "local",
		AccessToken: session.Token,
		ExpiresAt:   session.ExpiresAt,
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	}
	if err := p.file.Save(stored); err != nil {
		return nil, err
	}

	identity := stored.Identity()
	p.notify(identity)
	return identity, nil
}

// CurrentIdentity resolves the persisted session, if still valid
func (p *LocalProvider) CurrentIdentity(ctx context.Context) (*models.Identity, error) {
	stored, err := p.file.Load()
	if err != nil || stored == nil {
		return nil, err
	}
	if stored.Backend != "local" {
		return nil, nil
	}

	session, err := p.store.AuthSessionByToken(ctx, stored.AccessToken)
	if errors.Is(err, db.ErrNotFound) {
		// Expired or revoked elsewhere
		_ = p.file.Clear()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	user, err := p.store.UserByID(ctx, session.UserID)
	if errors.Is(err, db.ErrNotFound) {
		_ = p.file.Clear()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.Identity{ID: user.ID, Email: user.Email, DisplayName: user.DisplayName}, nil
}

// SignOut revokes the session token and forgets it locally
func (p *LocalProvider) SignOut(ctx context.Context) error {
	stored, err := p.file.Load()
	if err != nil {
		return err
	}
	if stored != nil {
		if err := p.store.DeleteAuthSession(ctx, stored.AccessToken); err != nil {
			return err
		}
	}
	if err := p.file.Clear(); err != nil {
		return err
	}
	p.notify(nil)
	return nil
}

// OnSessionChange registers fn for sign-in and sign-out through this provider
func (p *LocalProvider) OnSessionChange(fn func(*models.Identity)) func() {
	return p.add(fn)
}
