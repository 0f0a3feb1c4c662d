// Package app はサブコマンドごとの依存関係の組み立てと起動を行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/recall/internal/auth"
	"github.com/hitoshi/recall/internal/chat"
	"github.com/hitoshi/recall/internal/config"
	"github.com/hitoshi/recall/internal/database"
	"github.com/hitoshi/recall/internal/enrichment"
	"github.com/hitoshi/recall/internal/graph"
	"github.com/hitoshi/recall/internal/handler"
	"github.com/hitoshi/recall/internal/logger"
	"github.com/hitoshi/recall/internal/metrics"
	"github.com/hitoshi/recall/internal/middleware"
	"github.com/hitoshi/recall/internal/repository"
	"github.com/hitoshi/recall/internal/security"
	"github.com/hitoshi/recall/internal/token"
	"github.com/hitoshi/recall/internal/user"
)

// shutdownTimeout はグレースフルシャットダウンの制限時間。
const shutdownTimeout = 30 * time.Second

// ErrRedisRequired はREDIS_URLなしでworkerを起動しようとした場合のエラー。
var ErrRedisRequired = errors.New("REDIS_URL is required for worker mode")

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. .envで指定されたログレベルを反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. Identity Store / Token Service
	userService := user.NewService(repository.NewPostgresUserRepo(db), cfg.StoreTimeout)
	tokens, err := token.NewService(cfg.SecretKey, cfg.AccessTokenTTL())
	if err != nil {
		return fmt.Errorf("failed to create token service: %w", err)
	}

	// 4. OAuth Bridge
	authService, err := newAuthService(cfg, userService, tokens)
	if err != nil {
		return err
	}

	// 5. Enrichment Dispatcher（REDIS_URLがあればキューへ転送し、なければプロセス内で処理する）
	enrichHandler, closeEnrichment, err := newEnrichmentHandler(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeEnrichment()

	dispatcher := enrichment.NewDispatcher(enrichHandler, slog.Default(), collector, dispatcherConfig(cfg))

	// 6. Message Ledger
	ledger := chat.NewLedger(repository.NewPostgresMessageRepo(db), cfg.StoreTimeout)
	chatService := chat.NewService(ledger, dispatcher, collector)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitChat),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		TokenVerifier:     tokens,
		UserFinder:        userService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HTTPRecorder:      collector,

		AuthService:   authService,
		LoginRecorder: collector,
		AuthConfig: handler.AuthHandlerConfig{
			FrontendURL:  cfg.FrontendURL,
			CookieSecure: cfg.CookieSecure(),
		},

		ChatService: chatService,

		MetricsHandler: metrics.Handler(registry),
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	// 受け付け済みのエンリッチメントを処理し終えてから終了する
	if err := dispatcher.Close(shutdownCtx); err != nil {
		slog.Warn("enrichment dispatcher did not drain", slog.String("error", err.Error()))
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// Redisキューからタスクを取り出し、プロセス内のDispatcherでエンリッチメントを行う。
// ctxがキャンセルされると取り出しを止め、処理中のタスクを待ってから終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.RedisURL == "" {
		return ErrRedisRequired
	}

	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. エンリッチメント処理
	processor, closeGraph, err := newProcessor(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeGraph()

	dispatcher := enrichment.NewDispatcher(processor, slog.Default(), nil, dispatcherConfig(cfg))

	// 3. キュー
	queue, err := enrichment.NewRedisQueue(ctx, cfg.RedisURL, cfg.RedisQueueKey, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer queue.Close()

	slog.Info("worker starting",
		slog.Int("workers", cfg.EnrichmentWorkers),
		slog.String("extractor", cfg.EnrichmentExtractor),
	)

	// 4. ctxがキャンセルされるまでブロックする
	if err := queue.Consume(ctx, dispatcher); err != nil {
		return fmt.Errorf("failed to consume enrichment queue: %w", err)
	}

	slog.Info("shutting down worker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		slog.Warn("enrichment dispatcher did not drain", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// newAuthService はOAuth BridgeとIdentity Store、Token Serviceから認証サービスを組み立てる。
// プロバイダーとの通信はSSRF対策済みのクライアントで行う。
func newAuthService(cfg *config.Config, users auth.IdentityStore, tokens auth.TokenIssuer) (*auth.Service, error) {
	policy, err := auth.ParseLinkPolicy(cfg.AccountLinkPolicy)
	if err != nil {
		return nil, err
	}

	guard := security.NewOutboundGuard()
	bridge := auth.NewBridge(auth.BridgeConfig{
		Google: auth.ProviderConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
		},
		GitHub: auth.ProviderConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
		},
		CallbackBaseURL: cfg.OAuthCallbackBaseURL(),
		HTTPClient:      guard.NewSafeClient(cfg.OAuthTimeout),
		Timeout:         cfg.OAuthTimeout,
		AvatarValidator: guard.ValidateURL,
	})

	return auth.NewService(bridge, users, tokens, auth.ServiceConfig{
		TokenTTL:   cfg.AccessTokenTTL(),
		LinkPolicy: policy,
	}), nil
}

// newEnrichmentHandler はDispatcherが呼び出すHandlerを返す。
// REDIS_URLが設定されていればworkerへ転送するキュー、なければProcessorを直接使う。
func newEnrichmentHandler(ctx context.Context, cfg *config.Config, db *sql.DB) (enrichment.Handler, func(), error) {
	if cfg.RedisURL != "" {
		queue, err := enrichment.NewRedisQueue(ctx, cfg.RedisURL, cfg.RedisQueueKey, slog.Default())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("enrichment tasks are forwarded to redis", slog.String("key", cfg.RedisQueueKey))
		return queue, func() { queue.Close() }, nil
	}

	processor, closeGraph, err := newProcessor(ctx, cfg, db)
	if err != nil {
		return nil, nil, err
	}
	return processor, closeGraph, nil
}

// newProcessor はエンリッチメント処理本体を組み立てる。
// NEO4J_URIが未設定の場合はグラフへの書き込みを行わない。
func newProcessor(ctx context.Context, cfg *config.Config, db *sql.DB) (*enrichment.Processor, func(), error) {
	extractor, err := enrichment.NewExtractor(cfg.EnrichmentExtractor)
	if err != nil {
		return nil, nil, err
	}

	var writer graph.Writer = graph.NoopWriter{}
	if cfg.Neo4jURI != "" {
		neo, err := graph.NewNeo4jWriter(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return nil, nil, err
		}
		writer = neo
	}

	processor := enrichment.NewProcessor(
		security.NewTextSanitizer(),
		extractor,
		repository.NewPostgresEntityRepo(db),
		writer,
		slog.Default(),
	)
	closeWriter := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := writer.Close(ctx); err != nil {
			slog.Warn("failed to close graph writer", slog.String("error", err.Error()))
		}
	}
	return processor, closeWriter, nil
}

func dispatcherConfig(cfg *config.Config) enrichment.DispatcherConfig {
	return enrichment.DispatcherConfig{
		Workers:        cfg.EnrichmentWorkers,
		QueueSize:      cfg.EnrichmentQueueSize,
		EnqueueTimeout: cfg.EnrichmentEnqueueTimeout,
		TaskTimeout:    cfg.EnrichmentTaskTimeout,
	}
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
