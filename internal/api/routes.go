package api

import (
	"net/http"
)

// Mount mounts the REST endpoints on mux.
func (a *API) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", a.HealthHandler)

	mux.HandleFunc("POST /api/user", a.RegisterHandler)
	mux.HandleFunc("POST /api/user/login", a.LoginHandler)
	mux.HandleFunc("POST /api/user/logout", a.RequireAuth(a.LogoutHandler))
	mux.HandleFunc("GET /api/user", a.RequireAuth(a.SearchUsersHandler))
	mux.HandleFunc("POST /api/user/pic", a.RequireAuth(a.UploadPicHandler))

	mux.HandleFunc("GET /api/chat", a.RequireAuth(a.ListChatsHandler))
	mux.HandleFunc("POST /api/chat", a.RequireAuth(a.AccessChatHandler))
	mux.HandleFunc("POST /api/chat/group", a.RequireAuth(a.CreateGroupHandler))
	mux.HandleFunc("PUT /api/chat/rename", a.RequireAuth(a.RenameGroupHandler))
	mux.HandleFunc("PUT /api/chat/groupadd", a.RequireAuth(a.AddToGroupHandler))
	mux.HandleFunc("PUT /api/chat/groupremove", a.RequireAuth(a.RemoveFromGroupHandler))

	mux.HandleFunc("POST /api/message", a.RequireAuth(a.SendMessageHandler))
	mux.HandleFunc("GET /api/message/{chatId}", a.RequireAuth(a.ListMessagesHandler))
}
