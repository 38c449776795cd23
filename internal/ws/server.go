package ws

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"slices"

	"mechat/internal/auth"

	"github.com/gorilla/websocket"
)

type TokenResolver interface {
	UserID(token string) (string, error)
}

type Server struct {
	ctx      context.Context
	auth     TokenResolver
	relay    *Relay
	cfg      SessionConfig
	origins  []string
	upgrader *websocket.Upgrader
}

// NewServer creates the websocket endpoint. Sessions end when ctx is done.
func NewServer(ctx context.Context, tokens TokenResolver, relay *Relay, origins []string, cfg SessionConfig) *Server {
	s := &Server{
		ctx:     ctx,
		auth:    tokens,
		relay:   relay,
		cfg:     cfg,
		origins: origins,
	}
	s.upgrader = &websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

// checkOrigin accepts non-browser clients, same-host pages and the configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.origins, "*") || slices.Contains(s.origins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.UserID(auth.BearerToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	session := NewSession(s.relay, conn, userID, s.cfg)
	if err := session.Handle(ctx); err != nil {
		log.Printf("websocket session %s for user %s ended: %v", session.ID, userID, err)
	}
}
