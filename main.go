package main

import (
	"context"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mechat/internal/api"
	"mechat/internal/auth"
	"mechat/internal/chat"
	"mechat/internal/commands"
	"mechat/internal/config"
	"mechat/internal/filestore"
	"mechat/internal/http"
	"mechat/internal/storage"
	"mechat/internal/ws"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mechat", flag.ContinueOnError)
	addUser := fs.String("add-user", "", "Email of a user to create on a running server (prints a generated password)")
	name := fs.String("name", "", "Display name for -add-user, defaults to the email")
	seed := fs.Bool("seed", false, "Fill a running server with demo users and chats")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cliMode := *addUser != "" || *seed
	cfg, err := config.Load(cliMode)
	if err != nil {
		return err
	}

	if *addUser != "" {
		displayName := *name
		if displayName == "" {
			displayName = *addUser
		}
		return commands.AddUser(displayName, *addUser, "", cfg)
	}
	if *seed {
		return commands.Seed(ctx, cfg)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewAuthService(ctx, auth.Config{
		Secret:      cfg.JWTSecret,
		TokenExpiry: cfg.TokenExpiry,
	}, bbStorage)
	if err != nil {
		return err
	}

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	chats := chat.NewService(bbStorage)
	relay := ws.NewRelay(chats, ws.NewMetrics(registry))
	wsServer := ws.NewServer(ctx, authService, relay, cfg.AllowedOrigins, ws.SessionConfig{
		PingInterval: cfg.PingInterval,
		PongWait:     cfg.PongWait,
	})

	apiHandler := http.NewAPIHandler(api.New(authService, chats, files, bbStorage), wsServer, files, bbStorage, cfg.AllowedOrigins)
	apiServer := http.NewAPIServer(apiHandler, cfg.APIAddr)
	opsServer := http.NewOpsServer(http.NewOpsHandler(authService, registry), cfg.OpsAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := opsServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Ops server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
