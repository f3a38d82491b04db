package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// errValidation は必須フィールドの欠落など入力値の不正を表す。
var errValidation = errors.New("入力値が不正です")

// currentUserFunc は現在のリクエストの認証済みユーザーログイン名を解決する。
// 未認証の場合は第2戻り値がfalseになる。
type currentUserFunc func(ctx context.Context) (string, bool)

// service は通知のライフサイクル（作成、更新、既読化、論理削除、一括状態遷移）を
// 管理する。自分自身を対象とする操作は認証済みユーザーの解決結果でスコープし、
// クライアント指定のログイン名では行わない。
type service struct {
	// store は通知レコードの永続化先。
	store *store
	// currentUser は現在のユーザーログイン名を解決する。
	currentUser currentUserFunc
}

// newService は新しいserviceを生成する。
func newService(store *store, currentUser currentUserFunc) *service {
	return &service{store: store, currentUser: currentUser}
}

// validateDraft は作成・全体更新時の必須フィールドを検証する。
func validateDraft(n Notification) error {
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: messageは必須です", errValidation)
	}
	if strings.TrimSpace(n.UserLogin) == "" {
		return fmt.Errorf("%w: userLoginは必須です", errValidation)
	}
	return nil
}

// create は新しい通知を永続化し、採番されたIDを含むレコードを返す。
// messageとuserLoginは必須。deletedとreadは呼び出し側の指定をそのまま使う
// （未指定の場合はfalse）。
func (s *service) create(ctx context.Context, n Notification) (Notification, error) {
	if err := validateDraft(n); err != nil {
		return Notification{}, err
	}
	n.ID = 0
	return s.store.save(ctx, n)
}

// update は既存の通知を全フィールド置換で更新する。
// IDが存在しない場合はerrNotFoundを返す。
func (s *service) update(ctx context.Context, n Notification) (Notification, error) {
	if err := validateDraft(n); err != nil {
		return Notification{}, err
	}
	exists, err := s.store.existsByID(ctx, n.ID)
	if err != nil {
		return Notification{}, err
	}
	if !exists {
		return Notification{}, errNotFound
	}
	return s.store.save(ctx, n)
}

// partialUpdate は既存の通知にパッチで指定されたフィールドのみをマージする。
// パッチに含まれないフィールドは変更しない。IDが存在しない場合はerrNotFoundを返す。
func (s *service) partialUpdate(ctx context.Context, id int64, patch notificationPatch) (Notification, error) {
	existing, err := s.store.findByID(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	return s.store.save(ctx, patch.apply(existing))
}

// getByID はIDで通知を1件取得する。副作用はない。
func (s *service) getByID(ctx context.Context, id int64) (Notification, error) {
	return s.store.findByID(ctx, id)
}

// hardDelete は通知を物理削除する。不可逆であり、トゥームストーンを経由しない。
// 存在しないIDに対してもエラーにしない（冪等）。
func (s *service) hardDelete(ctx context.Context, id int64) error {
	return s.store.deleteByID(ctx, id)
}

// softDelete は通知に論理削除フラグを立てる。
// 存在しないIDの場合は何もしない（エラーにしない）。
func (s *service) softDelete(ctx context.Context, id int64) error {
	n, err := s.store.findByID(ctx, id)
	if errors.Is(err, errNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	n.Deleted = true
	_, err = s.store.save(ctx, n)
	return err
}

// softDeleteAllForUser は指定ユーザーの有効な通知すべてに論理削除フラグを立てる。
// 読み取りと一括更新を1つのトランザクションで行い、全件成功か全件無効のどちらかになる。
// 対象が0件の場合は何もしない。管理用の一括操作であり、明示的なログイン名を受け取る。
func (s *service) softDeleteAllForUser(ctx context.Context, login string) error {
	return s.store.withTx(ctx, func(tx *store) error {
		notifications, err := tx.listActiveByUser(ctx, login)
		if err != nil {
			return err
		}
		if len(notifications) == 0 {
			return nil
		}
		for i := range notifications {
			notifications[i].Deleted = true
		}
		return tx.saveAll(ctx, notifications)
	})
}

// markRead は通知1件に既読フラグを立てる。
// 既読済みの通知に対しても成功する（冪等）。IDが存在しない場合はerrNotFoundを返す。
func (s *service) markRead(ctx context.Context, id int64) error {
	n, err := s.store.findByID(ctx, id)
	if err != nil {
		return err
	}
	n.Read = true
	_, err = s.store.save(ctx, n)
	return err
}

// markAllReadForCurrentUser は現在のユーザーの未読通知すべてに既読フラグを立てる。
// ユーザーが解決できない場合は警告をログに出して何もしない（未認証の呼び出し元に
// 既読化すべき通知は存在しないため、エラーにはしない）。
// 読み取りと一括更新は1つのトランザクションで行う。
func (s *service) markAllReadForCurrentUser(ctx context.Context) error {
	login, ok := s.currentUser(ctx)
	if !ok {
		log.Print("一括既読化をスキップ: ユーザーが解決できません")
		return nil
	}

	return s.store.withTx(ctx, func(tx *store) error {
		notifications, err := tx.listUnreadByUser(ctx, login)
		if err != nil {
			return err
		}
		if len(notifications) == 0 {
			return nil
		}
		for i := range notifications {
			notifications[i].Read = true
		}
		if err := tx.saveAll(ctx, notifications); err != nil {
			return err
		}
		log.Printf("%d件の通知を既読にしました: user=%s", len(notifications), login)
		return nil
	})
}

// historyForCurrentUser は現在のユーザーの全通知（論理削除済みを含む）を返す。
// ユーザーが解決できない場合は警告をログに出して空のリストを返す。
func (s *service) historyForCurrentUser(ctx context.Context) ([]Notification, error) {
	login, ok := s.currentUser(ctx)
	if !ok {
		log.Print("通知履歴の取得をスキップ: ユーザーが解決できません")
		return []Notification{}, nil
	}
	return s.store.listByUser(ctx, login)
}

// unreadHistoryForCurrentUser は現在のユーザーの有効かつ未読の通知を返す。
// ユーザーが解決できない場合は空のリストを返す。
func (s *service) unreadHistoryForCurrentUser(ctx context.Context) ([]Notification, error) {
	login, ok := s.currentUser(ctx)
	if !ok {
		log.Print("未読通知履歴の取得をスキップ: ユーザーが解決できません")
		return []Notification{}, nil
	}
	return s.store.listActiveUnreadByUser(ctx, login)
}

// welcome はウェルカム通知を作成する。既読・論理削除フラグを事前設定した
// 状態で作成できる点がcreateとの違い（createと同じ必須フィールド検証を行う）。
func (s *service) welcome(ctx context.Context, n Notification) (Notification, error) {
	if err := validateDraft(n); err != nil {
		return Notification{}, err
	}
	n.ID = 0
	created, err := s.store.save(ctx, n)
	if err != nil {
		return Notification{}, err
	}
	log.Printf("ウェルカム通知を作成しました: user=%s id=%d", created.UserLogin, created.ID)
	return created, nil
}

// unreadCount は指定ユーザーの有効かつ未読の通知件数を返す。
func (s *service) unreadCount(ctx context.Context, login string) (int64, error) {
	return s.store.countActiveUnreadByUser(ctx, login)
}
