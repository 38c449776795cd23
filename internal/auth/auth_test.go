package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"mechat/internal/models"
	"mechat/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAuthService(t *testing.T) {
	createService := func(t *testing.T) (*AuthService, *time.Time) {
		store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "auth.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })

		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)

		svc, err := NewAuthService(ctx, Config{
			Secret:      "server-secret",
			TokenExpiry: time.Hour,
			BcryptCost:  bcrypt.MinCost,
		}, store)
		require.NoError(t, err)

		currentTime := time.Unix(1700000000, 0)
		svc.now = func() time.Time {
			return currentTime
		}
		return svc, &currentTime
	}

	t.Run("Register", func(t *testing.T) {
		svc, _ := createService(t)

		resp, err := svc.Register(RegisterRequest{Name: "Alice", Email: "alice@example.com", Password: "pass1"})
		require.NoError(t, err)
		require.NotEmpty(t, resp.ID)
		require.Equal(t, "Alice", resp.Name)
		require.Equal(t, models.DefaultPic, resp.Pic)
		require.NotEmpty(t, resp.Token)

		id, err := svc.UserID(resp.Token)
		require.NoError(t, err)
		require.Equal(t, resp.ID, id)

		_, err = svc.Register(RegisterRequest{Name: "Alice 2", Email: "ALICE@example.com", Password: "pass2"})
		require.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("Register_Invalid", func(t *testing.T) {
		svc, _ := createService(t)

		tests := []struct {
			name string
			req  RegisterRequest
		}{
			{"No name", RegisterRequest{Email: "a@example.com", Password: "p"}},
			{"Script name", RegisterRequest{Name: "<script>x</script>", Email: "a@example.com", Password: "p"}},
			{"Bad email", RegisterRequest{Name: "A", Email: "not-an-email", Password: "p"}},
			{"No password", RegisterRequest{Name: "A", Email: "a@example.com"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.Register(tt.req)
				require.ErrorIs(t, err, models.ErrInvalidInput)
			})
		}
	})

	t.Run("Login", func(t *testing.T) {
		svc, _ := createService(t)
		reg, err := svc.Register(RegisterRequest{Name: "Bob", Email: "bob@example.com", Password: "secret"})
		require.NoError(t, err)

		resp, err := svc.Login(LoginRequest{Email: "bob@example.com", Password: "secret"})
		require.NoError(t, err)
		require.Equal(t, reg.ID, resp.ID)

		_, err = svc.Login(LoginRequest{Email: "bob@example.com", Password: "wrong"})
		require.ErrorIs(t, err, ErrLoginFailed)

		_, err = svc.Login(LoginRequest{Email: "nobody@example.com", Password: "secret"})
		require.ErrorIs(t, err, ErrLoginFailed)
	})

	t.Run("Token_Expiry", func(t *testing.T) {
		svc, now := createService(t)
		resp, err := svc.Register(RegisterRequest{Name: "Carol", Email: "carol@example.com", Password: "p"})
		require.NoError(t, err)

		*now = now.Add(59 * time.Minute)
		_, err = svc.UserID(resp.Token)
		require.NoError(t, err)

		*now = now.Add(2 * time.Minute)
		_, err = svc.UserID(resp.Token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Token_Tampered", func(t *testing.T) {
		svc, _ := createService(t)
		resp, err := svc.Register(RegisterRequest{Name: "Dan", Email: "dan@example.com", Password: "p"})
		require.NoError(t, err)

		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   resp.ID,
			ExpiresAt: jwt.NewNumericDate(time.Unix(1800000000, 0)),
		}).SignedString([]byte("other-secret"))
		require.NoError(t, err)

		_, err = svc.UserID(forged)
		require.ErrorIs(t, err, ErrInvalidToken)

		_, err = svc.UserID("")
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Logout", func(t *testing.T) {
		svc, _ := createService(t)
		resp, err := svc.Register(RegisterRequest{Name: "Eve", Email: "eve@example.com", Password: "p"})
		require.NoError(t, err)

		require.NoError(t, svc.Logout(resp.Token))
		_, err = svc.UserID(resp.Token)
		require.ErrorIs(t, err, ErrInvalidToken)

		// Other sessions of the same user stay valid.
		login, err := svc.Login(LoginRequest{Email: "eve@example.com", Password: "p"})
		require.NoError(t, err)
		_, err = svc.UserID(login.Token)
		require.NoError(t, err)
	})

	t.Run("SearchUsers", func(t *testing.T) {
		svc, _ := createService(t)
		a, err := svc.Register(RegisterRequest{Name: "Alice", Email: "alice@example.com", Password: "p"})
		require.NoError(t, err)
		_, err = svc.Register(RegisterRequest{Name: "Bob", Email: "bob@corp.io", Password: "p"})
		require.NoError(t, err)
		_, err = svc.Register(RegisterRequest{Name: "Alina", Email: "alina@corp.io", Password: "p"})
		require.NoError(t, err)

		users, err := svc.SearchUsers("ali", a.ID)
		require.NoError(t, err)
		require.Len(t, users, 1)
		require.Equal(t, "Alina", users[0].Name)

		users, err = svc.SearchUsers("CORP", "")
		require.NoError(t, err)
		require.Len(t, users, 2)

		users, err = svc.SearchUsers("", a.ID)
		require.NoError(t, err)
		require.Len(t, users, 2)
	})

	t.Run("SetPic", func(t *testing.T) {
		svc, _ := createService(t)
		a, err := svc.Register(RegisterRequest{Name: "Alice", Email: "alice@example.com", Password: "p"})
		require.NoError(t, err)

		// Warm the cache, then make sure the update is visible.
		_, err = svc.GetUser(a.ID)
		require.NoError(t, err)

		_, err = svc.SetPic(a.ID, "/api/images/x")
		require.NoError(t, err)

		u, err := svc.GetUser(a.ID)
		require.NoError(t, err)
		require.Equal(t, "/api/images/x", u.Pic)

		_, err = svc.GetUser("missing")
		require.True(t, errors.Is(err, models.ErrNotFound))
	})
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/chat", nil)
	r.Header.Set("Authorization", "Bearer abc")
	require.Equal(t, "abc", BearerToken(r))

	r = httptest.NewRequest("GET", "/ws?token=def", nil)
	require.Equal(t, "def", BearerToken(r))

	r = httptest.NewRequest("GET", "/api/chat?token=def", nil)
	r.Header.Set("Authorization", "Basic xyz")
	require.Equal(t, "", BearerToken(r))
}
