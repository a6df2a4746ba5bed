// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/media-forge/internal/artifacts"
	"github.com/yourusername/media-forge/internal/auth"
	"github.com/yourusername/media-forge/internal/config"
	"github.com/yourusername/media-forge/internal/history"
	"github.com/yourusername/media-forge/internal/jobs"
	"github.com/yourusername/media-forge/internal/media"
	"github.com/yourusername/media-forge/internal/settings"
	"github.com/yourusername/media-forge/internal/storage"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := log.Default()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	for _, dir := range []string{cfg.UploadDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	// 設定の既定値を登録して起動時のスナップショットを読み込む
	settingsService := settings.NewService(store)
	if err := settingsService.Seed(context.Background(), settings.Defaults); err != nil {
		log.Fatalf("Failed to seed settings: %v", err)
	}
	if _, err := settingsService.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	toolkit := media.NewToolkit(media.Options{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
	})
	resolver := artifacts.NewResolver(cfg.PublicBaseURL, cfg.OutputDir)

	opts := jobs.Options{
		OutputDir:    cfg.OutputDir,
		FrameHeight:  cfg.FrameHeight,
		CubeFaceSize: cfg.CubeFaceSize,
		Logger:       logger,
	}

	var (
		queue    *queueStack
		progress history.ProgressReader
	)
	if cfg.QueueEnabled() {
		queue, err = setupQueue(cfg, logger)
		if err != nil {
			log.Fatalf("Failed to set up job queue: %v", err)
		}
		defer queue.Close()
		opts.Scheduler = queue.dispatcher
		opts.Progress = queue.progress
		progress = queue.progress
	} else {
		recoverStaleJobs(store, logger)
	}

	manager, err := jobs.NewManager(store, toolkit, resolver, opts)
	if err != nil {
		log.Fatalf("Failed to initialize job manager: %v", err)
	}
	if queue != nil {
		queue.dispatcher.Start(manager)
	}

	browser, err := history.NewBrowser(cfg.OutputDir, resolver)
	if err != nil {
		log.Fatalf("Failed to initialize output browser: %v", err)
	}

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.MaxMultipartMemory = 32 << 20

	authManager := auth.NewManager(auth.Credentials{
		Username:     cfg.AppUsername,
		PasswordHash: cfg.AppPasswordHash,
	})
	if authManager.Enabled() {
		// セッションストアの設定（クッキー署名鍵は必須）
		sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
		sessionStore.Options(sessions.Options{
			Path:     "/",
			MaxAge:   auth.SessionMaxAgeSeconds(),
			HttpOnly: true,
			Secure:   cfg.GinMode == gin.ReleaseMode,
			SameSite: http.SameSiteStrictMode,
		})
		router.Use(sessions.Sessions(auth.SessionCookieName, sessionStore))
	}

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = splitOrigins(cfg.CORSAllowedOrigins)
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token",
	}
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	// 認証ガード（CORS のプリフライトはここに届く前に応答済み）
	router.Use(authManager.Guard(publicPaths(cfg)...))

	// ルーティングの設定
	router.GET("/", handleIndex)
	router.GET("/health", handleHealth(store))

	api := router.Group("/api")
	{
		authManager.Register(api)
		api.GET("/test-ffmpeg", toolCheckHandler(toolkit))
		jobs.NewHandlers(manager, jobs.NewUploadStore(cfg.UploadDir, cfg.MaxFileSize), resolver).Register(api)
		history.NewHandlers(history.NewService(store, resolver), browser, progress, logger).Register(api)
		settings.NewHandlers(settingsService, logger).Register(api)
	}

	// 成果物の配信
	router.Static("/files", cfg.OutputDir)
	router.Static("/output", cfg.OutputDir)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Starting API server on %s (mode: %s, auth: %t, queue: %t)", srv.Addr, cfg.GinMode, authManager.Enabled(), cfg.QueueEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
}

// publicPaths はログインなしで通すパスです。/api/auth 配下はハンドラー側でセッションを確認します。
func publicPaths(cfg *config.Config) []string {
	paths := []string{"/", "/health", "/api/auth"}
	if cfg.PublicFiles {
		paths = append(paths, "/files", "/output")
	}
	return paths
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// handleIndex はサーバーの稼働確認用のエンドポイントです。
func handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "media-forge API server is running",
		"service": "media-forge-api",
	})
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(store *storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		code, status, database := http.StatusOK, "ok", "ok"
		if err := store.Ping(ctx); err != nil {
			code, status, database = http.StatusServiceUnavailable, "degraded", err.Error()
		}
		c.JSON(code, gin.H{
			"status":   status,
			"service":  "media-forge-api",
			"version":  "0.1.0",
			"database": database,
		})
	}
}
