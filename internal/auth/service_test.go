package auth

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/beaconauth/beacon/internal/database"
	"github.com/beaconauth/beacon/internal/store"
	"github.com/beaconauth/beacon/internal/token"
)

type fakeMailer struct {
	sent []string // links
	err  error
}

func (m *fakeMailer) SendMagicLink(ctx context.Context, to, link string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, link)
	return nil
}

type fakePublisher struct {
	email   string
	event   string
	payload map[string]any
	calls   int
}

func (p *fakePublisher) Publish(email, event string, payload map[string]any) {
	p.email = email
	p.event = event
	p.payload = payload
	p.calls++
}

type fixture struct {
	svc    *Service
	users  *store.UserStore
	tokens *store.TokenStore
	signer *token.Signer
	mailer *fakeMailer
	pub    *fakePublisher
	db     *sql.DB
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		users:  store.NewUserStore(db),
		tokens: store.NewTokenStore(db),
		signer: token.NewSigner("test-secret"),
		mailer: &fakeMailer{},
		pub:    &fakePublisher{},
		db:     db,
	}
	f.svc = NewService(f.users, f.tokens, f.signer, f.mailer, f.pub, "http://localhost:3000", slog.Default())
	return f
}

func (f *fixture) registerUser(t *testing.T, email string) int64 {
	t.Helper()
	u, err := f.users.Create(context.Background(), email, "user")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

// issuedToken runs IssueToken and extracts the raw token from the mailed link.
func (f *fixture) issuedToken(t *testing.T, email string) string {
	t.Helper()
	if err := f.svc.IssueToken(context.Background(), email); err != nil {
		t.Fatalf("issue token: %v", err)
	}
	link := f.mailer.sent[len(f.mailer.sent)-1]
	i := strings.Index(link, "token=")
	if i < 0 {
		t.Fatalf("no token in link %q", link)
	}
	return link[i+len("token="):]
}

func TestIssueTokenUnregistered(t *testing.T) {
	f := setup(t)

	err := f.svc.IssueToken(context.Background(), "ghost@test.com")
	if !errors.Is(err, ErrUserNotRegistered) {
		t.Fatalf("err = %v, want ErrUserNotRegistered", err)
	}
	if len(f.mailer.sent) != 0 {
		t.Error("expected no mail sent")
	}
}

func TestIssueTokenStoresRowAndMailsLink(t *testing.T) {
	f := setup(t)
	userID := f.registerUser(t, "u@test.com")
	ctx := context.Background()

	raw := f.issuedToken(t, "u@test.com")

	n, err := f.tokens.CountForUser(ctx, userID)
	if err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stored token, got %d", n)
	}

	link := f.mailer.sent[0]
	if !strings.HasPrefix(link, "http://localhost:3000/auth/verify?token=") {
		t.Errorf("link = %q, want verification URL on the front-end origin", link)
	}

	claims, err := f.signer.ParseMagic(raw)
	if err != nil {
		t.Fatalf("parse mailed token: %v", err)
	}
	if claims.Email != "u@test.com" {
		t.Errorf("claim email = %q, want u@test.com", claims.Email)
	}
}

func TestIssueTokenMailFailureLeavesRow(t *testing.T) {
	f := setup(t)
	userID := f.registerUser(t, "u@test.com")
	f.mailer.err = errors.New("smtp down")

	err := f.svc.IssueToken(context.Background(), "u@test.com")
	if err == nil {
		t.Fatal("expected error when mail fails")
	}

	// Best effort: the stored token is not rolled back, it just expires unused.
	n, err := f.tokens.CountForUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected stored token to remain, got %d rows", n)
	}
}

func TestVerifyToken(t *testing.T) {
	f := setup(t)
	userID := f.registerUser(t, "u@test.com")
	raw := f.issuedToken(t, "u@test.com")

	cred, err := f.svc.VerifyToken(context.Background(), raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if cred.UserID != userID || cred.Email != "u@test.com" || cred.Role != "user" {
		t.Errorf("credential = %+v", cred)
	}

	claims, err := f.signer.ParseSession(cred.Token)
	if err != nil {
		t.Fatalf("parse session token: %v", err)
	}
	if claims.UserID != userID || claims.Email != "u@test.com" {
		t.Errorf("session claims = %+v", claims)
	}

	// The row is gone.
	mt, err := f.tokens.GetByToken(context.Background(), raw)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if mt != nil {
		t.Error("expected token row deleted after verification")
	}
}

func TestVerifyTokenTwice(t *testing.T) {
	f := setup(t)
	f.registerUser(t, "u@test.com")
	raw := f.issuedToken(t, "u@test.com")
	ctx := context.Background()

	if _, err := f.svc.VerifyToken(ctx, raw); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	_, err := f.svc.VerifyToken(ctx, raw)
	if !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("second verify err = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestVerifyTokenGarbage(t *testing.T) {
	f := setup(t)
	userID := f.registerUser(t, "u@test.com")
	f.issuedToken(t, "u@test.com")
	ctx := context.Background()

	_, err := f.svc.VerifyToken(ctx, "garbage")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}

	// Signature rejection must not touch the store.
	n, err := f.tokens.CountForUser(ctx, userID)
	if err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected stored token untouched, got %d rows", n)
	}
}

// The stored timestamp is the revocation authority: a token whose signature is
// still live must fail once the stored expiry has passed.
func TestVerifyTokenServerExpiry(t *testing.T) {
	f := setup(t)
	f.registerUser(t, "u@test.com")
	raw := f.issuedToken(t, "u@test.com")
	ctx := context.Background()

	if _, err := f.db.Exec(`UPDATE magic_tokens SET expires_at = datetime('now', '-1 minute')`); err != nil {
		t.Fatalf("expire row: %v", err)
	}

	_, err := f.svc.VerifyToken(ctx, raw)
	if !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("err = %v, want ErrInvalidOrExpiredToken", err)
	}
}

// Same outcome when the row has been removed outright (future reaper or
// manual revocation).
func TestVerifyTokenRevokedRow(t *testing.T) {
	f := setup(t)
	f.registerUser(t, "u@test.com")
	raw := f.issuedToken(t, "u@test.com")
	ctx := context.Background()

	if _, err := f.db.Exec(`DELETE FROM magic_tokens`); err != nil {
		t.Fatalf("revoke row: %v", err)
	}

	_, err := f.svc.VerifyToken(ctx, raw)
	if !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("err = %v, want ErrInvalidOrExpiredToken", err)
	}
}

// Defensive path: the embedded email no longer resolves to a user row.
func TestVerifyTokenUserMissing(t *testing.T) {
	f := setup(t)
	f.registerUser(t, "u@test.com")
	raw := f.issuedToken(t, "u@test.com")
	ctx := context.Background()

	if _, err := f.db.Exec(`UPDATE users SET email = 'moved@test.com'`); err != nil {
		t.Fatalf("move user: %v", err)
	}

	_, err := f.svc.VerifyToken(ctx, raw)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestVerifyTokenPublishesToRoom(t *testing.T) {
	f := setup(t)
	userID := f.registerUser(t, "u@test.com")
	raw := f.issuedToken(t, "u@test.com")

	cred, err := f.svc.VerifyToken(context.Background(), raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if f.pub.calls != 1 {
		t.Fatalf("expected 1 publish, got %d", f.pub.calls)
	}
	if f.pub.email != "u@test.com" {
		t.Errorf("publish room = %q, want u@test.com", f.pub.email)
	}
	if f.pub.event != EventUserAuthenticated {
		t.Errorf("publish event = %q, want %q", f.pub.event, EventUserAuthenticated)
	}
	if f.pub.payload["userId"] != userID {
		t.Errorf("payload userId = %v, want %d", f.pub.payload["userId"], userID)
	}
	if f.pub.payload["sessionToken"] != cred.Token {
		t.Error("payload sessionToken differs from returned credential")
	}
}
