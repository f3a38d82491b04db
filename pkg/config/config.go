// Package config は環境変数からサービス設定を読み込む。
//
// .envファイルが存在する場合は先に読み込み、環境変数が常に優先される。
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config は通知サービスの設定を表す。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"8086"`
	// DatabasePath はSQLiteデータベースファイルのパス。
	DatabasePath string `env:"DATABASE_PATH" envDefault:"/data/notification.db"`
	// JWTSecret はJWTトークン検証用のシークレット。
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-key"`
	// AllowedOrigins はCORSで許可するオリジンのリスト（カンマ区切り）。
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Load は.envファイルと環境変数から設定を読み込む。
// .envファイルが存在しない場合はエラーにせず環境変数のみを使用する。
func Load() (*Config, error) {
	// .envが無い環境（コンテナ、CI）では何もしない
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}
	return &cfg, nil
}
