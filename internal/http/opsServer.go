package http

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"mechat/internal/api"
	"mechat/internal/auth"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OpsServer serves metrics and operator endpoints on a private address.
type OpsServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewOpsHandler(authService *auth.AuthService, gatherer prometheus.Gatherer) http.Handler {
	adminHandler := api.NewAdminHandler(authService)
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /admin/users", adminHandler.AddUserHandler)
	mux.HandleFunc("GET /admin/users", adminHandler.ListUsersHandler)
	return mux
}

func NewOpsServer(handler http.Handler, addr string) *OpsServer {
	if addr == "" {
		addr = "localhost:9090"
	}

	return &OpsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *OpsServer) Start() error {
	log.Printf("Ops API started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *OpsServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
