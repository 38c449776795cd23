package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mechat/internal/content"
	"mechat/internal/models"
	"mechat/internal/storage"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 30 * 24 * time.Hour
	loginFailedMessage = "invalid email or password"
	issuer             = "mechat"
)

var (
	ErrLoginFailed  = errors.New(loginFailedMessage)
	ErrInvalidToken = errors.New("invalid token")
)

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Pic      string `json:"pic,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Config struct {
	Secret      string
	TokenExpiry time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost. Tests lower it.
	BcryptCost int
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	return nil
}

type UserStore interface {
	CreateUser(user storage.DBUser) error
	UpdateUser(user storage.DBUser) error
	GetUser(id string) (storage.DBUser, error)
	GetUserByEmail(email string) (storage.DBUser, error)
	ListUsers() ([]storage.DBUser, error)
}

type AuthService struct {
	Config
	store UserStore
	// token id -> struct{} until the token would have expired anyway
	revoked geche.Geche[string, struct{}]
	users   geche.Geche[string, models.User]
	now     func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store UserStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:  config,
		store:   store,
		revoked: geche.NewMapTTLCache[string, struct{}](ctx, config.TokenExpiry, time.Minute),
		users:   geche.NewMapTTLCache[string, models.User](ctx, 5*time.Minute, time.Minute),
		now:     time.Now,
	}, nil
}

func toUser(u storage.DBUser) models.User {
	return models.User{ID: u.ID, Name: u.Name, Email: u.Email, Pic: u.Pic}
}

func (as *AuthService) Register(req RegisterRequest) (models.AuthResponse, error) {
	name := content.CleanName(req.Name)
	if err := content.ValidateName(name); err != nil {
		return models.AuthResponse{}, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if err := content.ValidateEmail(req.Email); err != nil {
		return models.AuthResponse{}, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if req.Password == "" {
		return models.AuthResponse{}, fmt.Errorf("%w: password is required", models.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), as.BcryptCost)
	if err != nil {
		return models.AuthResponse{}, fmt.Errorf("failed to hash password: %w", err)
	}

	pic := req.Pic
	if pic == "" {
		pic = models.DefaultPic
	}

	dbUser := storage.DBUser{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        strings.TrimSpace(req.Email),
		Pic:          pic,
		PasswordHash: string(hash),
		CreatedAt:    as.now().Unix(),
	}
	if err := as.store.CreateUser(dbUser); err != nil {
		return models.AuthResponse{}, err
	}

	return as.issue(toUser(dbUser))
}

func (as *AuthService) Login(req LoginRequest) (models.AuthResponse, error) {
	dbUser, err := as.store.GetUserByEmail(req.Email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.AuthResponse{}, ErrLoginFailed
		}
		return models.AuthResponse{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(dbUser.PasswordHash), []byte(req.Password)); err != nil {
		return models.AuthResponse{}, ErrLoginFailed
	}

	return as.issue(toUser(dbUser))
}

func (as *AuthService) issue(user models.User) (models.AuthResponse, error) {
	now := as.now()
	expires := now.Add(as.TokenExpiry)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    issuer,
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(as.Secret))
	if err != nil {
		slog.Error("token signing failed", "user_id", user.ID, "error", err)
		return models.AuthResponse{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return models.AuthResponse{
		User:        user,
		Token:       token,
		TokenExpiry: expires.Unix(),
	}, nil
}

func (as *AuthService) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(as.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(as.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// UserID resolves a bearer token to the user id it was issued for.
func (as *AuthService) UserID(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	claims, err := as.parse(token)
	if err != nil {
		return "", err
	}
	if _, err := as.revoked.Get(claims.ID); err == nil {
		return "", fmt.Errorf("%w: revoked", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Logout revokes the token for the rest of its lifetime.
func (as *AuthService) Logout(token string) error {
	claims, err := as.parse(token)
	if err != nil {
		return err
	}
	as.revoked.Set(claims.ID, struct{}{})
	return nil
}

// GetUser returns the public profile of a user.
func (as *AuthService) GetUser(id string) (models.User, error) {
	if u, err := as.users.Get(id); err == nil {
		return u, nil
	}
	dbUser, err := as.store.GetUser(id)
	if err != nil {
		return models.User{}, err
	}
	u := toUser(dbUser)
	as.users.Set(id, u)
	return u, nil
}

// SearchUsers matches query against name and email, case-insensitively,
// and never returns the caller. An empty query matches everyone.
func (as *AuthService) SearchUsers(query, excludeID string) ([]models.User, error) {
	all, err := as.store.ListUsers()
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	result := make([]models.User, 0, len(all))
	for _, u := range all {
		if u.ID == excludeID {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(u.Name), query) &&
			!strings.Contains(strings.ToLower(u.Email), query) {
			continue
		}
		result = append(result, toUser(u))
	}
	return result, nil
}

// SetPic updates the user's profile picture URL.
func (as *AuthService) SetPic(id, pic string) (models.User, error) {
	dbUser, err := as.store.GetUser(id)
	if err != nil {
		return models.User{}, err
	}
	dbUser.Pic = pic
	if err := as.store.UpdateUser(dbUser); err != nil {
		return models.User{}, err
	}
	_ = as.users.Del(id)
	return toUser(dbUser), nil
}

// BearerToken extracts the token from the Authorization header, falling back
// to the "token" query parameter since browsers cannot set headers on
// websocket upgrades.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
