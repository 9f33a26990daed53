package main

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/veriflow/veriflow-backend/internal/config"
	"github.com/veriflow/veriflow-backend/internal/database"
	"github.com/veriflow/veriflow-backend/internal/handlers"
	"github.com/veriflow/veriflow-backend/internal/middleware"
	"github.com/veriflow/veriflow-backend/internal/routes"
	"github.com/veriflow/veriflow-backend/internal/services"
	"github.com/veriflow/veriflow-backend/internal/store"
	"github.com/veriflow/veriflow-backend/pkg/utils"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()

	// Check encryption key (warn if not set, but don't fail)
	var encryptionKey []byte
	if cfg.EncryptionKey == "" {
		log.Println("⚠️  WARNING: ENCRYPTION_KEY not set. Contact email encryption will not work.")
		log.Println("   To generate a key, run: openssl rand -base64 32")
		log.Println("   Set it in your environment: ENCRYPTION_KEY=<generated-key>")
	} else {
		key, err := utils.ParseEncryptionKey(cfg.EncryptionKey)
		if err != nil {
			log.Printf("⚠️  WARNING: ENCRYPTION_KEY is invalid: %v", err)
			log.Println("   Key must be base64-encoded 32 bytes. Generate with: openssl rand -base64 32")
		} else {
			encryptionKey = key
			log.Println("✅ Encryption key configured")
		}
	}

	if cfg.AdminKeyHash == "" {
		log.Println("⚠️  WARNING: ADMIN_KEY_HASH not set. The admin API will reject all requests.")
	}

	// Connect to PostgreSQL (identity directory)
	log.Printf("Connecting to PostgreSQL...")
	if err := database.ConnectPostgres(cfg.PostgresURI); err != nil {
		log.Fatal("Failed to connect to PostgreSQL:", err)
	}
	defer database.DisconnectPostgres()

	// Connect to Redis (challenges, rate limiting, dedup)
	log.Printf("Connecting to Redis...")
	if err := database.ConnectRedis(cfg.RedisURI); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer database.DisconnectRedis()

	// Log connection attempt (without showing password)
	log.Printf("Connecting to MongoDB...")
	if cfg.MongoURI != "" && strings.Contains(cfg.MongoURI, "@") {
		log.Printf("MongoDB URI: %s", maskMongoURI(cfg.MongoURI))
	}

	// Connect to MongoDB (trace store)
	if err := database.Connect(cfg.MongoURI); err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer database.Disconnect()

	traceStore := store.NewMongoTraceStore(database.DB)
	if err := traceStore.EnsureTraceIndexes(context.Background()); err != nil {
		log.Printf("⚠️  WARNING: failed to ensure MongoDB trace indexes: %v", err)
	} else {
		log.Println("✅ MongoDB trace indexes ensured")
	}

	// Wire the verification flow
	kv := store.NewRedisKV(database.RedisClient)
	recorder := services.NewRecorder(traceStore)
	limiter := services.NewLimiter(kv, services.LimiterConfig{
		Window:         cfg.RateWindow,
		Ceiling:        cfg.RateCeiling,
		BlockDuration:  cfg.TempBlockDuration,
		Escalation:     cfg.BlockEscalation,
		HistoryTTL:     cfg.BlockHistoryTTL,
		ResetOnUnblock: cfg.ResetHistoryOnUnblock,
	})
	challenges := services.NewChallenges(kv, services.LogCodeDelivery{}, services.ChallengeConfig{
		TTL:         cfg.ChallengeTTL,
		Period:      cfg.CodePeriod,
		MaxAttempts: cfg.MaxCodeAttempts,
	})
	sessions := services.NewSessions(cfg.SessionTimeout, recorder)
	directory := services.NewPostgresDirectory(database.PostgresDB, encryptionKey)

	gateway := handlers.NewGateway(services.LogSender{})
	orchestrator := services.NewOrchestrator(sessions, limiter, challenges, recorder, directory, gateway, kv, cfg.DedupTTL)
	gateway.SetOrchestrator(orchestrator)

	if !cfg.IsProduction() {
		if err := directory.SeedDevIdentities(context.Background()); err != nil {
			log.Printf("⚠️  WARNING: failed to seed development identities: %v", err)
		}
	}

	// Setup router
	r := chi.NewRouter()

	// Custom CORS: set headers and respond to OPTIONS with 200 so preflight never gets 403
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.RateLimitMiddleware)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	routes.SetupRoutes(r, routes.Deps{
		Webhook:      handlers.NewWebhook(orchestrator),
		Gateway:      gateway,
		Admin:        handlers.NewAdmin(recorder, sessions, limiter, gateway),
		AdminKeyHash: cfg.AdminKeyHash,
	})

	log.Println("📋 Registered routes:")
	log.Println("  GET  /health")
	log.Println("  POST /api/chat/inbound")
	log.Println("  GET  /ws/chat")
	log.Println("  GET  /api/admin/traces")
	log.Println("  GET  /api/admin/traces/chain")
	log.Println("  GET  /api/admin/traces/active")
	log.Println("  GET  /api/admin/statistics")
	log.Println("  GET  /api/admin/blocks")
	log.Println("  PUT  /api/admin/unblock")

	log.Printf("🚀 Veriflow backend running on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

// maskMongoURI hides the password portion of a connection string for logs.
func maskMongoURI(uri string) string {
	parts := strings.SplitN(uri, "@", 2)
	creds := strings.SplitN(parts[0], "://", 2)
	if len(creds) != 2 || !strings.Contains(creds[1], ":") {
		return uri
	}
	user := strings.SplitN(creds[1], ":", 2)[0]
	return creds[0] + "://" + user + ":***@" + parts[1]
}
