// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// 認証設定（APP_USERNAME が空なら認証なしで起動）
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵
	PublicFiles     bool   // true なら /files と /output はログインなしで配信する

	// サーバー設定
	Port          string // APIサーバーのポート番号
	GinMode       string // Ginの実行モード (debug, release, test)
	PublicBaseURL string // 成果物URLの組み立てに使うベースURL

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ファイル・ストレージ設定
	MaxFileSize  int64  // アップロード1件あたりの最大サイズ（バイト）
	DatabasePath string // SQLiteファイルのパス
	UploadDir    string // アップロードの一時保存先
	OutputDir    string // 処理結果の出力先

	// メディア処理設定
	FFmpegPath   string // ffmpeg 実行ファイルのパス
	FFprobePath  string // ffprobe 実行ファイルのパス
	FrameHeight  int    // 抽出フレームの高さ（0 なら元サイズ）
	CubeFaceSize int    // キューブ面の出力サイズ（0 なら切り出しサイズのまま）

	// ジョブ/キュー設定
	QueueRedisURL      string // Asynq/進捗ストア用Redis接続URL（空なら無効）
	QueueConcurrency   int    // ワーカーの同時実行数
	ProgressTTLMinutes int    // 進捗情報の保持時間（分）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	port := getEnv("PORT", "5001")
	config := &Config{
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),
		PublicFiles:     getEnvAsBool("AUTH_PUBLIC_FILES", false),

		Port:          port,
		GinMode:       getEnv("GIN_MODE", "debug"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		MaxFileSize:  getEnvAsInt64("MAX_FILE_SIZE", 2<<30), // 2GB
		DatabasePath: getEnv("DATABASE_PATH", filepath.Join("data", "videoconvert.db")),
		UploadDir:    getEnv("UPLOAD_DIR", "uploads"),
		OutputDir:    getEnv("OUTPUT_DIR", "output"),

		FFmpegPath:   getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:  getEnv("FFPROBE_PATH", "ffprobe"),
		FrameHeight:  getEnvAsInt("FRAME_HEIGHT", 720),
		CubeFaceSize: getEnvAsInt("CUBE_FACE_SIZE", 0),

		QueueRedisURL:      getEnv("QUEUE_REDIS_URL", ""),
		QueueConcurrency:   getEnvAsInt("QUEUE_CONCURRENCY", 2),
		ProgressTTLMinutes: getEnvAsInt("PROGRESS_TTL_MINUTES", 60),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// AuthEnabled はログイン保護を有効にするかどうかを返します。
func (c *Config) AuthEnabled() bool {
	return c.AppUsername != ""
}

// QueueEnabled は Redis を使った非同期実行が設定されているかを返します。
func (c *Config) QueueEnabled() bool {
	return c.QueueRedisURL != ""
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH must not be empty")
	}
	if c.FrameHeight < 0 {
		return fmt.Errorf("FRAME_HEIGHT must not be negative")
	}
	if c.CubeFaceSize < 0 {
		return fmt.Errorf("CUBE_FACE_SIZE must not be negative")
	}

	if c.AuthEnabled() {
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required when APP_USERNAME is set")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required when APP_USERNAME is set")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。解釈できない値はデフォルト値になります。
func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
