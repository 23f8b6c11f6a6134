package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"
	"github.com/petermazzocco/particle-monitor/internal/auth"
	"github.com/petermazzocco/particle-monitor/internal/config"
	"github.com/petermazzocco/particle-monitor/internal/handlers"
	"github.com/petermazzocco/particle-monitor/internal/ingest"
	"github.com/petermazzocco/particle-monitor/internal/notify"
	"github.com/petermazzocco/particle-monitor/internal/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatal(err)
	}

	// Chi
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Session store, shared with gothic for the OAuth handshake
	sessionStore := auth.NewCookieStore(cfg.SessionSecret, isSecure(cfg.CallbackURL))
	gothic.Store = sessionStore
	if cfg.GoogleKey != "" {
		goth.UseProviders(google.New(cfg.GoogleKey, cfg.GoogleSecret, cfg.CallbackURL, "email", "profile"))
	}

	// Database connection
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("Failed to auto migrate models: %v", err)
	}

	objects, err := newR2Client(cfg)
	if err != nil {
		log.Fatal("ERR CONFIG:", err)
	}

	var publisher notify.Publisher = notify.Nop{}
	if cfg.NATSURL != "" {
		p, err := notify.NewNATSPublisher(cfg.NATSURL, "particle-monitor-api", nil)
		if err != nil {
			log.Printf("NATS unavailable, session events will not be published: %v", err)
		} else {
			publisher = p
		}
	}
	notifier := notify.New(publisher, nil)
	defer notifier.Close()

	authService := auth.NewService(db)
	authService.Subscribe(func(e auth.Event) {
		if err := notifier.Session(context.Background(), notify.SessionEvent{Type: string(e.Type), UserID: e.UserID}); err != nil {
			log.Println("Failed to publish session event:", err)
		}
	})
	authService.Subscribe(func(e auth.Event) {
		log.Printf("session %s: user %s", e.Type, e.UserID)
	})

	h := handlers.New(handlers.Config{
		Store:    st,
		Auth:     authService,
		Sessions: sessionStore,
		Objects:  objects,
		Bucket:   cfg.BucketName,
		Results: ingest.New(ingest.Config{
			Endpoint:       cfg.APIEndpoint,
			ResultsBaseURL: cfg.ResultsBaseURL,
		}),
	})
	r.Mount("/", h.Routes(cfg.RateLimitPerMinute))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Println("Server shutdown:", err)
		}
	}()

	log.Println("Starting API server on", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// newR2Client builds an S3 client for the Cloudflare R2 account.
func newR2Client(cfg *config.Config) (*s3.Client, error) {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS13,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			},
		},
	}
	httpClient := &http.Client{Transport: tr}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithHTTPClient(httpClient),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.AccessKeySecret, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
	}), nil
}

func isSecure(callbackURL string) bool {
	return strings.HasPrefix(callbackURL, "https://")
}
