// Package notification は予約に紐づくユーザー通知の状態管理を提供する。
//
// 通知の作成、既読・未読管理、論理削除（トゥームストーン）、ユーザー単位の
// 一括状態遷移、および条件指定による絞り込み検索を担う。通知の配信・プッシュは
// 行わず、状態のみを管理する。
package notification
