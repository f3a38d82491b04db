// Package middleware は通知サービスのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証とユーザーログイン名の伝播、リクエストID付与、
// パニックリカバリ、CORS設定を含む。
package middleware
