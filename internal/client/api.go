package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"mechat/internal/models"
)

const defaultRequestTimeout = 15 * time.Second

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether repeating the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// API is a thin client for the REST endpoints.
type API struct {
	baseURL string
	hc      *http.Client

	mu    sync.RWMutex
	token string
}

// NewAPI returns a client for the server at baseURL. A nil hc gets a client
// with a request timeout.
func NewAPI(baseURL string, hc *http.Client) *API {
	if hc == nil {
		hc = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), hc: hc}
}

func (a *API) SetToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
}

func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e); err == nil {
			apiErr.Message = e.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// Register creates an account and keeps the issued token.
func (a *API) Register(ctx context.Context, name, email, password string) (models.AuthResponse, error) {
	var resp models.AuthResponse
	err := a.do(ctx, http.MethodPost, "/api/user", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return models.AuthResponse{}, err
	}
	a.SetToken(resp.Token)
	return resp, nil
}

// Login keeps the issued token for later requests.
func (a *API) Login(ctx context.Context, email, password string) (models.AuthResponse, error) {
	var resp models.AuthResponse
	err := a.do(ctx, http.MethodPost, "/api/user/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return models.AuthResponse{}, err
	}
	a.SetToken(resp.Token)
	return resp, nil
}

func (a *API) Logout(ctx context.Context) error {
	err := a.do(ctx, http.MethodPost, "/api/user/logout", nil, nil)
	a.SetToken("")
	return err
}

func (a *API) SearchUsers(ctx context.Context, query string) ([]models.User, error) {
	var users []models.User
	err := a.do(ctx, http.MethodGet, "/api/user?search="+url.QueryEscape(query), nil, &users)
	return users, err
}

func (a *API) ListChats(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	err := a.do(ctx, http.MethodGet, "/api/chat", nil, &chats)
	return chats, err
}

// AccessChat opens, creating if needed, the one-to-one chat with userID.
func (a *API) AccessChat(ctx context.Context, userID string) (models.Chat, error) {
	var c models.Chat
	err := a.do(ctx, http.MethodPost, "/api/chat", map[string]string{"userId": userID}, &c)
	return c, err
}

func (a *API) CreateGroup(ctx context.Context, name string, userIDs []string) (models.Chat, error) {
	var c models.Chat
	err := a.do(ctx, http.MethodPost, "/api/chat/group", map[string]any{
		"name":  name,
		"users": userIDs,
	}, &c)
	return c, err
}

func (a *API) RenameGroup(ctx context.Context, chatID, name string) (models.Chat, error) {
	var c models.Chat
	err := a.do(ctx, http.MethodPut, "/api/chat/rename", map[string]string{
		"chatId":   chatID,
		"chatName": name,
	}, &c)
	return c, err
}

func (a *API) AddToGroup(ctx context.Context, chatID, userID string) (models.Chat, error) {
	var c models.Chat
	err := a.do(ctx, http.MethodPut, "/api/chat/groupadd", map[string]string{
		"chatId": chatID,
		"userId": userID,
	}, &c)
	return c, err
}

func (a *API) RemoveFromGroup(ctx context.Context, chatID, userID string) (models.Chat, error) {
	var c models.Chat
	err := a.do(ctx, http.MethodPut, "/api/chat/groupremove", map[string]string{
		"chatId": chatID,
		"userId": userID,
	}, &c)
	return c, err
}

// SendMessage posts a message and returns the canonical stored copy.
func (a *API) SendMessage(ctx context.Context, chatID, body string) (models.Message, error) {
	var m models.Message
	err := a.do(ctx, http.MethodPost, "/api/message", map[string]string{
		"content": body,
		"chatId":  chatID,
	}, &m)
	return m, err
}

func (a *API) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var msgs []models.Message
	err := a.do(ctx, http.MethodGet, "/api/message/"+url.PathEscape(chatID), nil, &msgs)
	return msgs, err
}
