package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// errNotFound は対象の通知が存在しないことを表す。
var errNotFound = errors.New("通知が見つかりません")

// dbtx は*sql.DBと*sql.Txの共通インターフェース。
// withTxの内外で同じクエリコードを使い回すために使用する。
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// store は通知レコードの永続化を担う。
// 一括操作の原子性はwithTxで保証する。
type store struct {
	// db はトランザクション開始用のデータベース接続。
	db *sql.DB
	// q はクエリ実行対象。通常はdb、withTx内ではトランザクション。
	q dbtx
}

// newStore は新しいstoreを生成する。
func newStore(db *sql.DB) *store {
	return &store{db: db, q: db}
}

// selectColumns は通知レコードのSELECT句で使用する列リスト。
const selectColumns = "id, message, reservation_id, user_login, is_deleted, is_read"

// scanNotification は1行を通知レコードに変換する。
func scanNotification(scan func(dest ...any) error) (Notification, error) {
	var n Notification
	var reservationID sql.NullInt64
	var deleted, read int64
	if err := scan(&n.ID, &n.Message, &reservationID, &n.UserLogin, &deleted, &read); err != nil {
		return Notification{}, err
	}
	if reservationID.Valid {
		v := reservationID.Int64
		n.ReservationID = &v
	}
	n.Deleted = deleted != 0
	n.Read = read != 0
	return n, nil
}

// boolToInt はSQLiteの整数カラムに格納するためにboolを変換する。
func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// nullableReservationID は任意の予約参照をsql.NullInt64に変換する。
func nullableReservationID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

// save は通知を永続化する。IDが未採番（0）の場合は挿入し採番されたIDを設定して返す。
// 採番済みの場合は全フィールドを更新する。
func (s *store) save(ctx context.Context, n Notification) (Notification, error) {
	if n.ID == 0 {
		result, err := s.q.ExecContext(ctx,
			`INSERT INTO notifications (message, reservation_id, user_login, is_deleted, is_read)
			 VALUES (?, ?, ?, ?, ?)`,
			n.Message, nullableReservationID(n.ReservationID), n.UserLogin,
			boolToInt(n.Deleted), boolToInt(n.Read))
		if err != nil {
			return Notification{}, fmt.Errorf("通知の挿入に失敗: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return Notification{}, fmt.Errorf("採番されたIDの取得に失敗: %w", err)
		}
		n.ID = id
		return n, nil
	}

	if _, err := s.q.ExecContext(ctx,
		`UPDATE notifications
		 SET message = ?, reservation_id = ?, user_login = ?, is_deleted = ?, is_read = ?
		 WHERE id = ?`,
		n.Message, nullableReservationID(n.ReservationID), n.UserLogin,
		boolToInt(n.Deleted), boolToInt(n.Read), n.ID); err != nil {
		return Notification{}, fmt.Errorf("通知の更新に失敗: %w", err)
	}
	return n, nil
}

// saveAll は複数の通知を一括で永続化する。
// 原子性が必要な場合は呼び出し側でwithTxに包むこと。
func (s *store) saveAll(ctx context.Context, notifications []Notification) error {
	for _, n := range notifications {
		if _, err := s.save(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// findByID はIDで通知を1件取得する。存在しない場合はerrNotFoundを返す。
func (s *store) findByID(ctx context.Context, id int64) (Notification, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM notifications WHERE id = ?", id)
	n, err := scanNotification(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, errNotFound
	}
	if err != nil {
		return Notification{}, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return n, nil
}

// existsByID はIDの通知が存在するかを返す。
func (s *store) existsByID(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM notifications WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("通知の存在確認に失敗: %w", err)
	}
	return exists, nil
}

// deleteByID はIDの通知を物理削除する。存在しない場合もエラーにしない（冪等）。
func (s *store) deleteByID(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, "DELETE FROM notifications WHERE id = ?", id); err != nil {
		return fmt.Errorf("通知の物理削除に失敗: %w", err)
	}
	return nil
}

// listWhere は条件に一致する通知をID降順（新しい順）で取得する。
func (s *store) listWhere(ctx context.Context, where string, args ...any) ([]Notification, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM notifications WHERE "+where+" ORDER BY id DESC", args...)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	notifications := make([]Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("通知行の読み取りに失敗: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知一覧の読み取りに失敗: %w", err)
	}
	return notifications, nil
}

// listByUser はユーザーの全通知（論理削除済みを含む）を取得する。
// user_login列はCOLLATE NOCASEのため大文字小文字を区別しない。
func (s *store) listByUser(ctx context.Context, login string) ([]Notification, error) {
	return s.listWhere(ctx, "user_login = ?", login)
}

// listActiveByUser はユーザーの有効な（未削除の）通知を取得する。
func (s *store) listActiveByUser(ctx context.Context, login string) ([]Notification, error) {
	return s.listWhere(ctx, "user_login = ? AND is_deleted = 0", login)
}

// listActiveUnreadByUser はユーザーの有効かつ未読の通知を取得する。
func (s *store) listActiveUnreadByUser(ctx context.Context, login string) ([]Notification, error) {
	return s.listWhere(ctx, "user_login = ? AND is_deleted = 0 AND is_read = 0", login)
}

// listUnreadByUser はユーザーの未読通知を論理削除済みを含めて取得する。
// 一括既読化の対象集合として使用する。
func (s *store) listUnreadByUser(ctx context.Context, login string) ([]Notification, error) {
	return s.listWhere(ctx, "user_login = ? AND is_read = 0", login)
}

// countActiveUnreadByUser はユーザーの有効かつ未読の通知件数を返す。
func (s *store) countActiveUnreadByUser(ctx context.Context, login string) (int64, error) {
	var count int64
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE user_login = ? AND is_deleted = 0 AND is_read = 0",
		login).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未読通知件数の取得に失敗: %w", err)
	}
	return count, nil
}

// query は条件リストとページ指定に従って通知を検索し、
// ページ内容とページネーションを無視した総件数を返す。
func (s *store) query(ctx context.Context, conds []condition, page pageRequest) ([]Notification, int64, error) {
	where, args, err := buildPredicates(conds)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.countWhere(ctx, where, args)
	if err != nil {
		return nil, 0, err
	}

	orderBy := "ORDER BY " + page.sortColumn
	if page.sortDesc {
		orderBy += " DESC"
	} else {
		orderBy += " ASC"
	}
	// 決定的な順序にするためIDの昇順でタイブレークする
	if page.sortColumn != "id" {
		orderBy += ", id ASC"
	}

	query := "SELECT " + selectColumns + " FROM notifications" + where +
		" " + orderBy + " LIMIT ? OFFSET ?"
	queryArgs := append(append([]any{}, args...), page.size, page.page*page.size)

	rows, err := s.q.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("通知の検索に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	notifications := make([]Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("通知行の読み取りに失敗: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("通知の検索結果の読み取りに失敗: %w", err)
	}
	return notifications, total, nil
}

// countByConditions は条件リストに一致する通知の総件数を返す。
// 同一条件でのqueryの総件数と必ず一致する。
func (s *store) countByConditions(ctx context.Context, conds []condition) (int64, error) {
	where, args, err := buildPredicates(conds)
	if err != nil {
		return 0, err
	}
	return s.countWhere(ctx, where, args)
}

// countWhere は組み立て済みWHERE句で件数を取得する。
func (s *store) countWhere(ctx context.Context, where string, args []any) (int64, error) {
	var count int64
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("通知件数の取得に失敗: %w", err)
	}
	return count, nil
}

// withTx はfnを1つのトランザクション内で実行する。
// fnがエラーを返した場合は全てロールバックし、部分的な効果を残さない。
func (s *store) withTx(ctx context.Context, fn func(tx *store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&store{db: s.db, q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return nil
}
