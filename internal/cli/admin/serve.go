package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/veldt-labs/quarry/internal/api/handlers"
	"github.com/veldt-labs/quarry/internal/config"
	"github.com/veldt-labs/quarry/internal/database"
	"github.com/veldt-labs/quarry/internal/openai"
	"github.com/veldt-labs/quarry/internal/repository"
	"github.com/veldt-labs/quarry/internal/server"
	"github.com/veldt-labs/quarry/internal/service"
	"github.com/veldt-labs/quarry/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the quarry API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides QUARRY_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	if !cfg.HasOpenAI() {
		return fmt.Errorf("QUARRY_OPENAI_API_KEY is required for embedding and synthesis")
	}

	if portFlag, _ := cmd.Flags().GetString("port"); portFlag != "" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPoolFromURL(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	store := repository.NewKnowledgeBaseRepository(pool)
	queryLogs := repository.NewQueryLogRepository(pool)

	embedder := openai.NewClientWithConfig(openai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		EmbeddingModel: goopenai.EmbeddingModel(cfg.EmbeddingModel),
	})
	chat := openai.NewChatClient(cfg.OpenAIAPIKey)

	manager := service.NewKnowledgeBaseManager(store, embedder, chat,
		service.WithQueryLogs(queryLogs),
		service.WithIngestWorkers(cfg.IngestWorkers),
		service.WithChatModel(cfg.ChatModel),
	)

	if cfg.InitOrgID != "" && cfg.InitKBName != "" {
		if err := bootstrapKnowledgeBase(ctx, cfg, manager); err != nil {
			return fmt.Errorf("failed to bootstrap knowledge base: %w", err)
		}
	}

	router := server.NewRouter(server.RouterConfig{
		KnowledgeBaseHandler: handlers.NewKnowledgeBaseHandler(manager),
		DocumentHandler:      handlers.NewDocumentHandler(manager),
		QueryHandler:         handlers.NewQueryHandler(manager),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// bootstrapKnowledgeBase creates the configured initial knowledge base unless
// the organization already has one with that name.
func bootstrapKnowledgeBase(ctx context.Context, cfg *config.Config, manager *service.KnowledgeBaseManager) error {
	page, err := manager.ListKnowledgeBases(ctx, cfg.InitOrgID, "", 100)
	if err != nil {
		return err
	}
	for _, kb := range page.Items {
		if kb.Name == cfg.InitKBName {
			log.Printf("bootstrap: knowledge base %q already exists (id: %s)", kb.Name, kb.ID)
			return nil
		}
	}

	kb, err := manager.CreateKnowledgeBase(ctx, service.CreateKnowledgeBaseInput{
		OrgID: cfg.InitOrgID,
		Name:  cfg.InitKBName,
	})
	if err != nil {
		return err
	}
	log.Printf("bootstrap: created knowledge base %q (id: %s)", kb.Name, kb.ID)
	return nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, verr := m.Version()
	switch {
	case verr == migrate.ErrNilVersion:
		log.Println("migrations: no migrations applied")
	case verr != nil:
		return fmt.Errorf("failed to get migration version: %w", verr)
	case dirty:
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	case err == migrate.ErrNoChange:
		log.Printf("migrations: database is up to date (version %d)", version)
	default:
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
