package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"mechat/internal/auth"
	"mechat/internal/chat"
	"mechat/internal/filestore"
	"mechat/internal/models"
	"mechat/internal/storage"
)

const maxBodySize = 1 << 20

type FileMetadataStore interface {
	UpsertFileMetadata(meta storage.FileMetadata) error
	GetFileMetadata(id string) (storage.FileMetadata, error)
	ReplaceUserFiles(userID, keepID string) error
}

type API struct {
	auth  *auth.AuthService
	chats *chat.Service
	files filestore.FileStore
	meta  FileMetadataStore
}

func New(authService *auth.AuthService, chats *chat.Service, files filestore.FileStore, meta FileMetadataStore) *API {
	return &API{auth: authService, chats: chats, files: files, meta: meta}
}

type errorResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Message: msg})
}

// writeErr maps domain errors to status codes. Unknown errors are logged
// and hidden behind a 500.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrLoginFailed), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, models.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func (a *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := a.auth.Register(req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.auth.Logout(auth.BearerToken(r)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func (a *API) SearchUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.SearchUsers(r.URL.Query().Get("search"), UserID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	chats, err := a.chats.ListChats(UserID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

type AccessChatRequest struct {
	UserID string `json:"userId"`
}

func (a *API) AccessChatHandler(w http.ResponseWriter, r *http.Request) {
	var req AccessChatRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := a.chats.AccessChat(UserID(r.Context()), strings.TrimSpace(req.UserID))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type CreateGroupRequest struct {
	Name  string   `json:"name"`
	Users []string `json:"users"`
}

func (a *API) CreateGroupHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := a.chats.CreateGroup(UserID(r.Context()), req.Name, req.Users)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type RenameGroupRequest struct {
	ChatID   string `json:"chatId"`
	ChatName string `json:"chatName"`
}

func (a *API) RenameGroupHandler(w http.ResponseWriter, r *http.Request) {
	var req RenameGroupRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := a.chats.RenameGroup(UserID(r.Context()), req.ChatID, req.ChatName)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type GroupMemberRequest struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

func (a *API) AddToGroupHandler(w http.ResponseWriter, r *http.Request) {
	var req GroupMemberRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := a.chats.AddToGroup(UserID(r.Context()), req.ChatID, req.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) RemoveFromGroupHandler(w http.ResponseWriter, r *http.Request) {
	var req GroupMemberRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := a.chats.RemoveFromGroup(UserID(r.Context()), req.ChatID, req.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type SendMessageRequest struct {
	Content string `json:"content"`
	ChatID  string `json:"chatId"`
}

func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !decode(w, r, &req) {
		return
	}
	msg, err := a.chats.SendMessage(UserID(r.Context()), req.ChatID, req.Content)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (a *API) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.chats.ListMessages(UserID(r.Context()), r.PathValue("chatId"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
