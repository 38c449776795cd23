package api

import (
	"net/http"

	"mechat/internal/auth"
	"mechat/internal/models"

	"github.com/google/uuid"
)

// AdminHandler serves operator endpoints. It is mounted on the ops listener
// only, which is bound to localhost by default.
type AdminHandler struct {
	authService *auth.AuthService
}

func NewAdminHandler(authService *auth.AuthService) *AdminHandler {
	return &AdminHandler{authService: authService}
}

type AddUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

type AddUserResponse struct {
	models.User
	// Password is only returned when it was generated.
	Password string `json:"password,omitempty"`
}

func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if !decode(w, r, &req) {
		return
	}

	password, generated := req.Password, false
	if password == "" {
		password, generated = uuid.NewString(), true
	}

	resp, err := h.authService.Register(auth.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: password,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	out := AddUserResponse{User: resp.User}
	if generated {
		out.Password = password
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *AdminHandler) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := h.authService.SearchUsers(r.URL.Query().Get("search"), "")
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}
