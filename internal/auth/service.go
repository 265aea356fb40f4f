// Package auth implements the magic-link lifecycle: issuing single-use signed
// tokens, verifying and atomically consuming them, and minting session
// credentials that are fanned out to the user's live connections.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/beaconauth/beacon/internal/model"
	"github.com/beaconauth/beacon/internal/store"
	"github.com/beaconauth/beacon/internal/token"
)

var (
	// ErrUserNotRegistered is returned by IssueToken for unknown emails.
	ErrUserNotRegistered = errors.New("user not registered")
	// ErrInvalidToken is returned when a token's signature or embedded expiry
	// claim fails verification. The store is not touched in that case.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidOrExpiredToken is returned when the store has no live row for
	// the token: already consumed, expired server-side, or never issued.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrUserNotFound is returned when a verified token references a user that
	// no longer exists.
	ErrUserNotFound = errors.New("user not found")
)

const (
	// MagicTokenTTL bounds how long a magic link stays usable.
	MagicTokenTTL = 5 * time.Minute
	// SessionTTL is the validity window of a minted session credential.
	SessionTTL = time.Hour

	// EventUserAuthenticated is published to every connection in the user's
	// room when verification succeeds.
	EventUserAuthenticated = "user_authenticated"
)

// Mailer delivers a magic link to an address. It either succeeds synchronously
// or fails the request; there is no queueing or retry.
type Mailer interface {
	SendMagicLink(ctx context.Context, to, link string) error
}

// Publisher fans an event out to every live connection registered under the
// email. Implementations must not block.
type Publisher interface {
	Publish(email, event string, payload map[string]any)
}

// Service owns the magic-token lifecycle and the credential store tables.
type Service struct {
	users     *store.UserStore
	tokens    *store.TokenStore
	signer    *token.Signer
	mailer    Mailer
	publisher Publisher
	baseURL   string
	logger    *slog.Logger
}

// NewService wires the token lifecycle. baseURL is the public front-end origin
// the verification link is built on.
func NewService(users *store.UserStore, tokens *store.TokenStore, signer *token.Signer, mailer Mailer, publisher Publisher, baseURL string, logger *slog.Logger) *Service {
	return &Service{
		users:     users,
		tokens:    tokens,
		signer:    signer,
		mailer:    mailer,
		publisher: publisher,
		baseURL:   baseURL,
		logger:    logger,
	}
}

// IssueToken mints a signed magic token for the email, records it with an
// independent server-side expiry, and mails the verification link. A token
// that was stored but could not be mailed is left in place; it expires unused.
func (s *Service) IssueToken(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return ErrUserNotRegistered
	}

	raw, err := s.signer.MintMagic(email, MagicTokenTTL)
	if err != nil {
		return fmt.Errorf("mint magic token: %w", err)
	}

	if _, err := s.tokens.Create(ctx, raw, user.ID, time.Now().Add(MagicTokenTTL)); err != nil {
		return fmt.Errorf("store magic token: %w", err)
	}

	link := fmt.Sprintf("%s/auth/verify?token=%s", s.baseURL, url.QueryEscape(raw))
	if err := s.mailer.SendMagicLink(ctx, email, link); err != nil {
		return fmt.Errorf("send magic link: %w", err)
	}

	s.logger.Info("magic link issued", "email", email)
	return nil
}

// VerifyToken checks the token's signature and claims, consumes the stored row,
// and mints a session credential. The consume is a single conditional delete:
// of two concurrent verifications of the same token, exactly one succeeds and
// the other sees ErrInvalidOrExpiredToken. Both the signed claim and the stored
// row must agree the token is live; a reaped or revoked row invalidates a token
// whose signature has not yet expired.
//
// On success the credential is published to every connection in the user's
// room before being returned; publish failures never fail the verification.
func (s *Service) VerifyToken(ctx context.Context, raw string) (*model.SessionCredential, error) {
	claims, err := s.signer.ParseMagic(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}

	consumed, err := s.tokens.Consume(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("consume magic token: %w", err)
	}
	if !consumed {
		return nil, ErrInvalidOrExpiredToken
	}

	user, err := s.users.GetByEmail(ctx, claims.Email)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	sessionToken, err := s.signer.MintSession(user.ID, user.Email, user.Role, SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("mint session token: %w", err)
	}

	cred := &model.SessionCredential{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		Token:  sessionToken,
	}

	// The row is already gone, so recipients can never observe a still-usable
	// token. The device that opened the link gets the credential from the HTTP
	// response; this reaches all the others.
	s.publisher.Publish(user.Email, EventUserAuthenticated, map[string]any{
		"email":        user.Email,
		"userId":       user.ID,
		"sessionToken": sessionToken,
	})

	s.logger.Info("token verified", "email", user.Email, "user_id", user.ID)
	return cred, nil
}
