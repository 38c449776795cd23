package http

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"mechat/internal/api"
	"mechat/internal/filestore"
	"mechat/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// NewAPIHandler builds the public mux: REST endpoints, pictures and the websocket.
func NewAPIHandler(apiHandlers *api.API, wsServer *ws.Server, files filestore.FileStore, meta api.FileMetadataStore, origins []string) http.Handler {
	mux := http.NewServeMux()
	apiHandlers.Mount(mux)
	mux.HandleFunc("GET /api/images/{id}", NewImageHandler(files, meta))
	mux.HandleFunc("GET /ws", wsServer.HandleConnections)
	return api.CORS(origins, mux)
}

func NewAPIServer(handler http.Handler, addr string) *APIServer {
	if addr == "" {
		addr = ":5000"
	}

	return &APIServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
