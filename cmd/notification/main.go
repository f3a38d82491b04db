// 通知サービスのエントリポイント。
// 予約に紐づくユーザー通知の作成・既読管理・論理削除と条件検索APIを提供する。
package main

import (
	"log"

	"github.com/nao1215/resanotify/internal/notification"
	"github.com/nao1215/resanotify/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	server, err := notification.NewServer(cfg)
	if err != nil {
		log.Fatalf("通知サーバーの初期化に失敗: %v", err)
	}

	log.Printf("通知サービスを起動します: :%s", cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("通知サービスの起動に失敗: %v", err)
	}
}
