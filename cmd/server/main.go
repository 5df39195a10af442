package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"goldmarket/internal/api"
	"goldmarket/internal/download"
	"goldmarket/internal/files"
	"goldmarket/internal/ledger"
	"goldmarket/internal/logging"
	"goldmarket/internal/social"
	"goldmarket/internal/store"
	"goldmarket/internal/users"
)

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func printStats(userStore *store.Users, fileStore *store.Files) {
	ctx := context.Background()
	stats, err := store.CollectStats(ctx, userStore, fileStore)
	if err != nil {
		logging.Internal.Fatalf("failed to get stats: %v", err)
	}

	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║          GoldMarket Statistics           ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Users:           %-22d ║\n", stats.TotalUsers)
	fmt.Printf("║  Gold Supply:     %-22d ║\n", stats.GoldSupply)
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Files:           %-22d ║\n", stats.TotalFiles)
	fmt.Printf("║  Total Storage:   %-22s ║\n", formatBytes(stats.TotalBytes))
	fmt.Printf("║  Likes:           %-22d ║\n", stats.TotalLikes)
	fmt.Printf("║  Collections:     %-22d ║\n", stats.TotalCollects)
	fmt.Printf("║  Purchases:       %-22d ║\n", stats.TotalPurchases)
	fmt.Printf("║  Downloads:       %-22d ║\n", stats.TotalDownloads)
	fmt.Println("╠══════════════════════════════════════════╣")
	if !stats.OldestFile.IsZero() {
		fmt.Printf("║  Oldest File:     %-22s ║\n", stats.OldestFile.Format("2006-01-02 15:04"))
		fmt.Printf("║  Newest File:     %-22s ║\n", stats.NewestFile.Format("2006-01-02 15:04"))
	} else {
		fmt.Println("║  No files in database                    ║")
	}
	fmt.Println("╚══════════════════════════════════════════╝")
}

// sessionSecret returns the JWT secret from the environment, or generates
// an ephemeral one (sessions then die with the process).
func sessionSecret() []byte {
	if s := os.Getenv("SESSION_SECRET"); s != "" {
		return []byte(s)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		logging.Internal.Fatalf("failed to generate session secret: %v", err)
	}
	logging.Internal.Printf("SESSION_SECRET not set, using ephemeral secret %s...", hex.EncodeToString(buf[:4]))
	return buf
}

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dbPath := flag.String("db", "goldmarket.db", "SQLite database path")
	stagingPath := flag.String("staging", "./staging", "Chunk staging directory")
	storagePath := flag.String("storage", "./uploads", "File storage directory (filesystem backend)")
	showStats := flag.Bool("stats", false, "Show marketplace statistics and exit")
	devMode := flag.Bool("dev", false, "Development mode: disables CORS restrictions and rate limiting")
	corsOrigins := flag.String("cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.Parse()

	// Optional .env for the S3 / secret configuration below
	if err := godotenv.Load(); err == nil {
		logging.Internal.Println("loaded configuration from .env")
	}

	// Initialize record store
	db, err := store.Open(*dbPath)
	if err != nil {
		logging.Internal.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	userStore := store.NewUsers(db)
	fileStore := store.NewFiles(db)

	// Show stats and exit if requested
	if *showStats {
		printStats(userStore, fileStore)
		return
	}

	// Initialize blob storage - use S3 if configured, otherwise local filesystem
	var storage files.Storage
	s3Bucket := os.Getenv("S3_BUCKET")
	if s3Bucket != "" {
		s3Storage, err := files.NewS3Storage(files.S3Config{
			Endpoint: os.Getenv("S3_ENDPOINT"),
			KeyID:    os.Getenv("S3_KEY_ID"),
			AppKey:   os.Getenv("S3_APP_KEY"),
			Bucket:   s3Bucket,
			Prefix:   os.Getenv("S3_PREFIX"),
		})
		if err != nil {
			logging.Internal.Fatalf("failed to initialize S3 storage: %v", err)
		}
		storage = s3Storage
		logging.Internal.Printf("using S3 storage (bucket: %s)", s3Bucket)
	} else {
		fsStorage, err := files.NewFSStorage(*storagePath)
		if err != nil {
			logging.Internal.Fatalf("failed to initialize storage: %v", err)
		}
		storage = fsStorage
		logging.Internal.Printf("using local filesystem storage (%s)", *storagePath)
	}

	// Initialize services
	filesSvc, err := files.NewService(storage, *stagingPath, db, fileStore)
	if err != nil {
		logging.Internal.Fatalf("failed to initialize file service: %v", err)
	}
	usersSvc := users.NewService(userStore)
	sessions := users.NewSessions(sessionSecret())
	ledgerSvc := ledger.NewService(db, userStore, fileStore)
	socialSvc := social.NewService(db, userStore, fileStore)
	downloads := download.NewIssuer(filesSvc, userStore, download.DefaultTTL)

	// Limit concurrent staging areas per user (max 3 open uploads)
	limiter := api.NewUploadSessionLimiter(3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sweep abandoned staging areas and expired download grants
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				count, err := filesSvc.SweepStaging(ctx, 24*time.Hour)
				if err != nil {
					logging.Internal.Printf("staging sweep error: %v", err)
				} else if count > 0 {
					logging.Internal.Printf("swept %d abandoned staging areas", count)
				}

				if n := downloads.SweepExpired(); n > 0 {
					logging.Internal.Printf("swept %d expired download grants", n)
				}
				if n := limiter.CleanupExpired(24 * time.Hour); n > 0 {
					logging.Internal.Printf("cleaned up %d stale upload sessions", n)
				}
			}
		}
	}()

	// Setup HTTP handler
	handler := api.NewHandler(usersSvc, sessions, ledgerSvc, socialSvc, filesSvc, downloads, limiter)

	mux := http.NewServeMux()
	mux.Handle("/api/", handler)

	// Configure CORS
	var corsConfig api.CORSConfig
	if *devMode {
		logging.Internal.Println("development mode: CORS allowing all origins")
	} else if *corsOrigins != "" {
		origins := strings.Split(*corsOrigins, ",")
		for i, o := range origins {
			origins[i] = strings.TrimSpace(o)
		}
		corsConfig.AllowedOrigins = origins
		logging.Internal.Printf("CORS restricted to origins: %v", origins)
	}

	// Apply middleware (order: Logger -> RateLimit -> CORS -> handler)
	var finalHandler http.Handler = mux
	finalHandler = api.CORS(corsConfig)(finalHandler)
	var rateLimiter *api.RateLimiterMiddleware
	if !*devMode {
		rateLimiter = api.NewRateLimiter(api.DefaultRateLimitConfig())
		finalHandler = rateLimiter.Middleware(finalHandler)
		logging.Internal.Println("rate limiting enabled")
	}
	finalHandler = api.Logger(finalHandler)

	server := &http.Server{
		Addr:    *addr,
		Handler: finalHandler,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logging.Internal.Println("shutting down...")
		cancel()

		if rateLimiter != nil {
			rateLimiter.Stop()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Internal.Printf("shutdown error: %v", err)
		}
	}()

	logging.Internal.Printf("starting server on %s", *addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logging.Internal.Fatalf("server error: %v", err)
	}
}
