// Package main our entry point.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gigdesk/gigdesk/internal"
	"github.com/gigdesk/gigdesk/internal/auth"
	"github.com/gigdesk/gigdesk/internal/broker"
	"github.com/gigdesk/gigdesk/internal/gateway"
	"github.com/gigdesk/gigdesk/internal/handler"
	"github.com/gigdesk/gigdesk/internal/presence"
	"github.com/gigdesk/gigdesk/internal/ratelimit"
	"github.com/gigdesk/gigdesk/internal/rooms"
	"github.com/gigdesk/gigdesk/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %+v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:              "0.0.0.0:" + port,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is not set")
	}

	// Init store
	log.Println("Starting application...")

	var (
		messages store.MessageStore
		users    store.UserStore
		pgStore  *store.PostgresStore
	)

	if os.Getenv("STORE_BACKEND") == "memory" {
		log.Println("Using in-memory store (no persistence across restarts)")
		mem := store.NewMemoryStore()
		messages, users = mem, mem
	} else {
		dbURL := os.Getenv("DB_URL")
		if dbURL == "" {
			log.Fatal("DB_URL environment variable is not set")
		}

		log.Println("Initializing Database connection...")
		var err error
		pgStore, err = store.NewPostgresStore(ctx, dbURL)
		if err != nil {
			log.Fatalf("could not connect to the postgresql database: %v", err)
		}
		messages, users = pgStore, pgStore

		if err := goose.SetDialect("postgres"); err != nil {
			log.Fatalf("goose dialect error: %v", err)
		}
		migDB := stdlib.OpenDBFromPool(pgStore.Pool())
		if err := goose.Up(migDB, "sql/schema"); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		if err := migDB.Close(); err != nil {
			log.Printf("failed to close migration handle: %v", err)
		}
	}

	// Init NATS. Optional: without a broker the gateway still works, the
	// notification service just receives nothing.
	var (
		natsConn  *nats.Conn
		publisher *broker.Publisher
	)

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		log.Println("Initializing NATS connection...")

		var natsCredentials []nats.Option

		if cred := os.Getenv("NATS_CRED"); cred != "" {
			natsCredentials = append(natsCredentials, nats.UserCredentials(cred))
		} else if user, pass := os.Getenv("NATS_USER"), os.Getenv("NATS_PASSWORD"); user != "" && pass != "" {
			natsCredentials = append(natsCredentials, nats.UserInfo(user, pass))
		}

		natsCredentials = append(natsCredentials, nats.Timeout(5*time.Second))

		conn, err := nats.Connect(natsURL, natsCredentials...)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		natsConn = conn

		js, err := jetstream.New(conn)
		if err != nil {
			log.Fatalf("failed to create jetstream instance: %v", err)
		}

		if _, err := broker.EnsureStream(ctx, js); err != nil {
			log.Fatalf("%v", err)
		}

		publisher = broker.NewPublisher(js)
	}

	resolver := auth.NewResolver(users, jwtSecret)

	// hub.Run is our central hub that is always listening for client related
	// events.
	registry := presence.NewRegistry()
	router := rooms.NewRouter()
	hub := gateway.NewHub(messages, users, registry, router, publisher)
	go hub.Run(ctx)

	loginLimiter := ratelimit.NewIPRateLimiter(10, time.Minute, ratelimit.CleanupOpts{
		TTL:      10 * time.Minute,
		Interval: time.Minute,
	})
	defer loginLimiter.Cancel()

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	if pgStore != nil {
		r.Get("/healthz", handler.ServeHealth(pgStore))
	} else {
		r.Get("/healthz", handler.ServeHealth(nil))
	}

	r.Group(func(r chi.Router) {
		r.Use(loginLimiter.Middleware)
		r.Post("/account/login", handler.ServeLogin(users, resolver))
	})

	// Load chat history over HTTP on initial connection before starting
	// websockets.
	r.Group(func(r chi.Router) {
		r.Use(internal.Middleware(resolver))
		r.Get("/messages", handler.ServeMessages(messages))
		r.Get("/messages/unread", handler.ServeUnreadCount(messages))
	})

	// The websocket handshake authenticates on its own; no middleware here.
	r.Get("/ws", handler.ServeWs(hub, resolver))

	server.Handler = r

	go func() {
		log.Printf("Server starting at 0.0.0.0:%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutdown signal received; shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Println(err)
	}

	// Drain NATS connection.
	if natsConn != nil {
		if err := natsConn.Drain(); err != nil {
			log.Printf("couldn't drain NATS conn: %+v", err)
		}
	}

	// Close DB connection.
	if pgStore != nil {
		pgStore.Close()
	}

	log.Println("Server stopped")
}
