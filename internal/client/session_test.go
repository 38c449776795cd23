package client

import (
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mechat/internal/api"
	"mechat/internal/auth"
	"mechat/internal/chat"
	"mechat/internal/content"
	"mechat/internal/filestore"
	"mechat/internal/http"
	"mechat/internal/models"
	"mechat/internal/realtime"
	"mechat/internal/storage"
	"mechat/internal/ws"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := t.Context()

	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "mechat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	authService, err := auth.NewAuthService(ctx, auth.Config{
		Secret:     "test-secret",
		BcryptCost: bcrypt.MinCost,
	}, store)
	require.NoError(t, err)

	files, err := filestore.NewLocalFileStore(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)

	chats := chat.NewService(store)
	relay := ws.NewRelay(chats, ws.NewMetrics(prometheus.NewRegistry()))
	wsServer := ws.NewServer(ctx, authService, relay, nil, ws.SessionConfig{})

	handler := http.NewAPIHandler(api.New(authService, chats, files, store), wsServer, files, store, nil)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

type recorder struct {
	mu       sync.Mutex
	warnings []string
}

func (r *recorder) warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, msg)
}

func (r *recorder) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warnings...)
}

func testConfig(serverURL string, rec *recorder) Config {
	return Config{
		ServerURL: serverURL,
		Realtime: realtime.Config{
			AckTimeout:        time.Second,
			ReconnectDelay:    10 * time.Millisecond,
			ReconnectAttempts: 2,
			DialTimeout:       time.Second,
		},
		TypingTimeout:  300 * time.Millisecond,
		SendRetries:    2,
		SendRetryDelay: 10 * time.Millisecond,
		OnWarning:      rec.warn,
	}
}

func newTestSession(t *testing.T, serverURL, name string) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := NewSession(testConfig(serverURL, rec))
	_, err := s.Register(t.Context(), name, strings.ToLower(name)+"@example.com", "secret-"+name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Logout(t.Context()) })
	return s, rec
}

func TestSession_Conversation(t *testing.T) {
	srv := newTestServer(t)
	ctx := t.Context()

	alice, aliceRec := newTestSession(t, srv.URL, "Alice")
	bob, _ := newTestSession(t, srv.URL, "Bob")
	require.Eventually(t, alice.Connected, time.Second, 10*time.Millisecond)
	require.Eventually(t, bob.Connected, time.Second, 10*time.Millisecond)

	c, err := alice.StartChat(ctx, bob.Self().ID)
	require.NoError(t, err)
	require.Equal(t, c.ID, alice.Store().Chats()[0].ID)

	chats, err := bob.LoadChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Equal(t, c.ID, chats[0].ID)

	require.NoError(t, alice.OpenChat(ctx, c.ID))
	require.NoError(t, bob.OpenChat(ctx, c.ID))

	// Typing reaches the peer in the open chat.
	alice.Keystroke("hel")
	require.Eventually(t, func() bool {
		return bob.Typing().IsPeerTyping()
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{alice.Self().ID}, bob.Typing().PeersTyping())

	alice.Keystroke("hello bob")
	m, err := alice.Submit(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello bob", m.Content)
	require.Empty(t, alice.Draft())
	require.Len(t, alice.Store().Thread(), 1)

	require.Eventually(t, func() bool {
		thread := bob.Store().Thread()
		return len(thread) == 1 && thread[0].ID == m.ID
	}, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return !bob.Typing().IsPeerTyping()
	}, time.Second, 10*time.Millisecond)
	require.Zero(t, bob.Store().UnreadCount(c.ID))

	// With the chat closed the next message becomes a notification.
	require.NoError(t, bob.CloseChat(ctx))
	alice.SetDraft("are you there?")
	second, err := alice.Submit(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return bob.Store().UnreadCount(c.ID) == 1
	}, time.Second, 10*time.Millisecond)
	notes := bob.Store().Notifications()
	require.Len(t, notes, 1)
	require.Equal(t, second.ID, notes[0].ID)
	require.Equal(t, second.ID, bob.Store().Chats()[0].LatestMessage.ID)

	// Opening it again loads both messages and clears the unread marker.
	require.NoError(t, bob.OpenChat(ctx, c.ID))
	require.Len(t, bob.Store().Thread(), 2)
	require.Zero(t, bob.Store().UnreadCount(c.ID))
	require.Empty(t, bob.Store().Notifications())

	require.Empty(t, aliceRec.Warnings())
}

func TestSession_SubmitFailureRestoresDraft(t *testing.T) {
	srv := newTestServer(t)
	ctx := t.Context()

	alice, rec := newTestSession(t, srv.URL, "Alice")
	bob, _ := newTestSession(t, srv.URL, "Bob")

	c, err := alice.StartChat(ctx, bob.Self().ID)
	require.NoError(t, err)

	_, err = alice.Submit(ctx)
	require.ErrorIs(t, err, ErrNoOpenChat)

	require.NoError(t, alice.OpenChat(ctx, c.ID))
	_, err = alice.Submit(ctx)
	require.ErrorIs(t, err, ErrEmptyMessage)

	long := strings.Repeat("x", content.MaxMessageLength+1)
	alice.Keystroke(long)
	_, err = alice.Submit(ctx)
	require.ErrorIs(t, err, ErrSendFailed)
	require.Equal(t, long, alice.Draft())
	require.Empty(t, alice.Store().Thread())
	warned := len(rec.Warnings())
	require.NotZero(t, warned)
	require.Contains(t, rec.Warnings()[0], "message not sent")
}

func TestSession_WithoutRealtime(t *testing.T) {
	srv := newTestServer(t)
	ctx := t.Context()

	rec := &recorder{}
	cfg := testConfig(srv.URL, rec)
	cfg.Realtime.URL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/missing"
	cfg.Realtime.ReconnectDelay = 300 * time.Millisecond
	alice := NewSession(cfg)
	_, err := alice.Register(ctx, "Alice", "alice@example.com", "secret")
	require.NoError(t, err)
	t.Cleanup(func() { _ = alice.Logout(ctx) })

	require.False(t, alice.Connected())
	warned := len(rec.Warnings())
	require.NotZero(t, warned)

	bob, _ := newTestSession(t, srv.URL, "Bob")
	c, err := alice.StartChat(ctx, bob.Self().ID)
	require.NoError(t, err)

	// REST keeps working: the chat opens and messages are stored. The
	// connect attempt runs in the background and does not delay opening.
	start := time.Now()
	require.NoError(t, alice.OpenChat(ctx, c.ID))
	require.Less(t, time.Since(start), cfg.Realtime.ReconnectDelay)
	require.Eventually(t, func() bool { return len(rec.Warnings()) > warned }, 5*time.Second, 20*time.Millisecond)
	alice.Keystroke("offline hello")
	m, err := alice.Submit(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{m.ID}, messageIDs(alice.Store().Thread()))

	require.NoError(t, bob.OpenChat(ctx, c.ID))
	require.Len(t, bob.Store().Thread(), 1)
}

func TestSession_NotLoggedIn(t *testing.T) {
	s := NewSession(Config{ServerURL: "http://localhost:1"})
	_, err := s.LoadChats(t.Context())
	require.ErrorIs(t, err, ErrNotLoggedIn)
	require.ErrorIs(t, s.OpenChat(t.Context(), "c1"), ErrNotLoggedIn)
	require.ErrorIs(t, s.Logout(t.Context()), ErrNotLoggedIn)
	require.Nil(t, s.Store())
	require.False(t, s.Connected())
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:5000", "ws://localhost:5000/ws", false},
		{"https://chat.example.com/", "wss://chat.example.com/ws", false},
		{"https://example.com/mechat", "wss://example.com/mechat/ws", false},
		{"ftp://example.com", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := WebsocketURL(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func messageIDs(thread []models.Message) []string {
	ids := make([]string, 0, len(thread))
	for _, m := range thread {
		ids = append(ids, m.ID)
	}
	return ids
}
