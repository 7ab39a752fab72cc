package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-auth-service"
	"github.com/goliatone/go-auth-service/persistence"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	ctx := context.Background()
	db, err := persistence.Open(ctx, persistence.DriverSQLite, ":memory:")
	require.NoError(t, err)

	require.NoError(t, persistence.Migrate(ctx, db, persistence.DriverSQLite))

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func setupRepositories(t *testing.T, clock func() time.Time) (auth.RepositoryManager, *bun.DB) {
	t.Helper()
	db := setupTestDB(t)
	return auth.NewRepositoryManager(db, auth.WithUsersClock(clock)), db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// seedUser stores an active account with password "Password123"
func seedUser(t *testing.T, repo auth.RepositoryManager, email string, roles ...auth.Role) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword("Password123")
	require.NoError(t, err)

	user := &auth.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		IsActive:     true,
		IsVerified:   true,
	}
	user.SetRoles(auth.NewRoleSet(roles...))

	created, err := repo.Users().Create(context.Background(), user)
	require.NoError(t, err)
	return created
}

type recordingMailer struct {
	mu       sync.Mutex
	messages []auth.EmailMessage
	err      error
}

func (m *recordingMailer) Send(_ context.Context, msg auth.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *recordingMailer) Sent() []auth.EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]auth.EmailMessage(nil), m.messages...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

const testSecret = "0123456789abcdef0123456789abcdef"

type memoryDenylist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func newMemoryDenylist() *memoryDenylist {
	return &memoryDenylist{revoked: map[string]time.Time{}}
}

func (d *memoryDenylist) Revoke(_ context.Context, jti string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revoked[jti] = until
	return nil
}

func (d *memoryDenylist) IsRevoked(_ context.Context, jti string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.revoked[jti]
	return ok, nil
}

type testStack struct {
	repo     auth.RepositoryManager
	clock    *testClock
	issuer   *auth.TokenIssuer
	verifier *auth.TokenVerifier
	auther   *auth.Auther
	sink     *recordingSink
	mailer   *recordingMailer
	denylist *memoryDenylist
}

// newTestStack wires the token and authentication services against an
// in-memory database sharing one deterministic clock
func newTestStack(t *testing.T) *testStack {
	t.Helper()

	clock := newTestClock()
	repo, _ := setupRepositories(t, clock.Now)

	codec, err := auth.NewTokenCodec([]byte(testSecret))
	require.NoError(t, err)
	codec.WithClock(clock.Now)

	issuer := auth.NewTokenIssuer(codec, auth.IssuerConfig{
		Issuer:    "auth service",
		AccessTTL: 15 * time.Minute,
	}).WithClock(clock.Now)

	verifier := auth.NewTokenVerifier(codec)
	resolver := auth.NewIdentityResolver(verifier, repo.Users())

	sink := &recordingSink{}
	denylist := newMemoryDenylist()

	provider := auth.NewUserProvider(repo.Users()).WithClock(clock.Now)
	auther := auth.NewAuthenticator(provider, issuer, resolver).
		WithActivitySink(sink).
		WithDenylist(denylist).
		WithClock(clock.Now)

	return &testStack{
		repo:     repo,
		clock:    clock,
		issuer:   issuer,
		verifier: verifier,
		auther:   auther,
		sink:     sink,
		mailer:   &recordingMailer{},
		denylist: denylist,
	}
}
