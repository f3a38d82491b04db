package notification

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

// newTestStore はテスト用のインメモリSQLiteストアを構築する。
// インメモリDBは接続ごとに独立するため、接続数を1に固定する。
func newTestStore(t *testing.T) *store {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}
	return newStore(sqlDB)
}

// mustSave はテスト用に通知を保存するヘルパー関数。
func mustSave(t *testing.T, s *store, n Notification) Notification {
	t.Helper()
	saved, err := s.save(context.Background(), n)
	if err != nil {
		t.Fatalf("テスト用通知の保存に失敗: %v", err)
	}
	return saved
}

// int64Ptr はテスト用にint64のポインタを返す。
func int64Ptr(v int64) *int64 {
	return &v
}

// TestStoreSave は通知の保存を検証する。
func TestStoreSave(t *testing.T) {
	t.Parallel()

	t.Run("未採番の通知を挿入するとIDが採番されること", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)

		saved := mustSave(t, s, Notification{Message: "予約が確定しました", UserLogin: "alice"})

		if saved.ID == 0 {
			t.Error("IDが採番されるべき")
		}
	})

	t.Run("採番されたIDは再利用されないこと", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)

		first := mustSave(t, s, Notification{Message: "1件目", UserLogin: "alice"})
		if err := s.deleteByID(context.Background(), first.ID); err != nil {
			t.Fatalf("物理削除に失敗: %v", err)
		}
		second := mustSave(t, s, Notification{Message: "2件目", UserLogin: "alice"})

		if second.ID <= first.ID {
			t.Errorf("新しいID = %d, 削除済みのID %d より大きいべき", second.ID, first.ID)
		}
	})

	t.Run("採番済みの通知は全フィールドが更新されること", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)

		saved := mustSave(t, s, Notification{Message: "変更前", UserLogin: "alice"})
		saved.Message = "変更後"
		saved.ReservationID = int64Ptr(42)
		saved.Read = true
		mustSave(t, s, saved)

		got, err := s.findByID(context.Background(), saved.ID)
		if err != nil {
			t.Fatalf("通知の取得に失敗: %v", err)
		}
		if got.Message != "変更後" {
			t.Errorf("Message = %q, want %q", got.Message, "変更後")
		}
		if got.ReservationID == nil || *got.ReservationID != 42 {
			t.Errorf("ReservationID = %v, want 42", got.ReservationID)
		}
		if !got.Read {
			t.Error("Read = false, want true")
		}
	})

	t.Run("予約参照なしの通知はnullで格納されること", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)

		saved := mustSave(t, s, Notification{Message: "予約なし", UserLogin: "alice"})

		got, err := s.findByID(context.Background(), saved.ID)
		if err != nil {
			t.Fatalf("通知の取得に失敗: %v", err)
		}
		if got.ReservationID != nil {
			t.Errorf("ReservationID = %v, want nil", got.ReservationID)
		}
	})
}

// TestStoreFindByID は通知の取得を検証する。
func TestStoreFindByID(t *testing.T) {
	t.Parallel()

	t.Run("存在しないIDはerrNotFoundを返すこと", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)

		_, err := s.findByID(context.Background(), 9999)
		if !errors.Is(err, errNotFound) {
			t.Errorf("err = %v, want errNotFound", err)
		}
	})
}

// TestStoreExistsByID は通知の存在確認を検証する。
func TestStoreExistsByID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	saved := mustSave(t, s, Notification{Message: "存在確認", UserLogin: "alice"})

	exists, err := s.existsByID(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("存在確認に失敗: %v", err)
	}
	if !exists {
		t.Error("保存済みIDはtrueを返すべき")
	}

	exists, err = s.existsByID(context.Background(), 9999)
	if err != nil {
		t.Fatalf("存在確認に失敗: %v", err)
	}
	if exists {
		t.Error("未保存IDはfalseを返すべき")
	}
}

// TestStoreDeleteByID は物理削除を検証する。
func TestStoreDeleteByID(t *testing.T) {
	t.Parallel()

	t.Run("削除後は取得できないこと", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)

		saved := mustSave(t, s, Notification{Message: "削除対象", UserLogin: "alice"})
		if err := s.deleteByID(context.Background(), saved.ID); err != nil {
			t.Fatalf("物理削除に失敗: %v", err)
		}

		if _, err := s.findByID(context.Background(), saved.ID); !errors.Is(err, errNotFound) {
			t.Errorf("err = %v, want errNotFound", err)
		}
	})

	t.Run("存在しないIDの削除はエラーにならないこと（冪等）", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)

		if err := s.deleteByID(context.Background(), 9999); err != nil {
			t.Errorf("存在しないIDの削除でエラーが発生: %v", err)
		}
	})
}

// TestStoreListByUser はユーザー単位の一覧取得を検証する。
func TestStoreListByUser(t *testing.T) {
	t.Parallel()

	t.Run("論理削除済みを含む全通知を返すこと", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)

		mustSave(t, s, Notification{Message: "有効", UserLogin: "alice"})
		mustSave(t, s, Notification{Message: "削除済み", UserLogin: "alice", Deleted: true})
		mustSave(t, s, Notification{Message: "他ユーザー", UserLogin: "bob"})

		notifications, err := s.listByUser(context.Background(), "alice")
		if err != nil {
			t.Fatalf("一覧取得に失敗: %v", err)
		}
		if len(notifications) != 2 {
			t.Errorf("件数 = %d, want 2", len(notifications))
		}
	})

	t.Run("ログイン名の大文字小文字を区別しないこと", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)

		mustSave(t, s, Notification{Message: "通知", UserLogin: "Alice"})

		notifications, err := s.listByUser(context.Background(), "alice")
		if err != nil {
			t.Fatalf("一覧取得に失敗: %v", err)
		}
		if len(notifications) != 1 {
			t.Errorf("件数 = %d, want 1", len(notifications))
		}
	})

	t.Run("新しい通知が先頭に来ること", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)

		first := mustSave(t, s, Notification{Message: "古い", UserLogin: "alice"})
		second := mustSave(t, s, Notification{Message: "新しい", UserLogin: "alice"})

		notifications, err := s.listByUser(context.Background(), "alice")
		if err != nil {
			t.Fatalf("一覧取得に失敗: %v", err)
		}
		if len(notifications) != 2 {
			t.Fatalf("件数 = %d, want 2", len(notifications))
		}
		if notifications[0].ID != second.ID || notifications[1].ID != first.ID {
			t.Errorf("並び順 = [%d, %d], want [%d, %d]",
				notifications[0].ID, notifications[1].ID, second.ID, first.ID)
		}
	})
}

// TestStoreListActiveByUser は有効な通知の一覧取得を検証する。
func TestStoreListActiveByUser(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	mustSave(t, s, Notification{Message: "有効", UserLogin: "alice"})
	mustSave(t, s, Notification{Message: "削除済み", UserLogin: "alice", Deleted: true})

	notifications, err := s.listActiveByUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("一覧取得に失敗: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("件数 = %d, want 1", len(notifications))
	}
	if notifications[0].Message != "有効" {
		t.Errorf("Message = %q, want %q", notifications[0].Message, "有効")
	}
}

// TestStoreListUnread は未読通知の一覧取得を検証する。
func TestStoreListUnread(t *testing.T) {
	t.Parallel()

	t.Run("listActiveUnreadByUserは有効かつ未読のみを返すこと", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)

		mustSave(t, s, Notification{Message: "未読", UserLogin: "alice"})
		mustSave(t, s, Notification{Message: "既読", UserLogin: "alice", Read: true})
		mustSave(t, s, Notification{Message: "削除済み未読", UserLogin: "alice", Deleted: true})

		notifications, err := s.listActiveUnreadByUser(context.Background(), "alice")
		if err != nil {
			t.Fatalf("一覧取得に失敗: %v", err)
		}
		if len(notifications) != 1 {
			t.Fatalf("件数 = %d, want 1", len(notifications))
		}
		if notifications[0].Message != "未読" {
			t.Errorf("Message = %q, want %q", notifications[0].Message, "未読")
		}
	})

	t.Run("listUnreadByUserは論理削除済みの未読も含むこと", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)

		mustSave(t, s, Notification{Message: "未読", UserLogin: "alice"})
		mustSave(t, s, Notification{Message: "削除済み未読", UserLogin: "alice", Deleted: true})
		mustSave(t, s, Notification{Message: "既読", UserLogin: "alice", Read: true})

		notifications, err := s.listUnreadByUser(context.Background(), "alice")
		if err != nil {
			t.Fatalf("一覧取得に失敗: %v", err)
		}
		if len(notifications) != 2 {
			t.Errorf("件数 = %d, want 2", len(notifications))
		}
	})
}

// TestStoreCountActiveUnreadByUser は未読件数の取得を検証する。
func TestStoreCountActiveUnreadByUser(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	mustSave(t, s, Notification{Message: "未読1", UserLogin: "bob"})
	mustSave(t, s, Notification{Message: "未読2", UserLogin: "bob"})
	mustSave(t, s, Notification{Message: "既読", UserLogin: "bob", Read: true})
	mustSave(t, s, Notification{Message: "削除済み未読", UserLogin: "bob", Deleted: true})
	mustSave(t, s, Notification{Message: "他ユーザー", UserLogin: "alice"})

	count, err := s.countActiveUnreadByUser(context.Background(), "bob")
	if err != nil {
		t.Fatalf("件数取得に失敗: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	// 件数は有効かつ未読の一覧の長さと一致する
	notifications, err := s.listActiveUnreadByUser(context.Background(), "bob")
	if err != nil {
		t.Fatalf("一覧取得に失敗: %v", err)
	}
	if int64(len(notifications)) != count {
		t.Errorf("一覧の長さ = %d, 件数 = %d, 一致するべき", len(notifications), count)
	}
}

// TestStoreWithTx はトランザクションの原子性を検証する。
func TestStoreWithTx(t *testing.T) {
	t.Parallel()

	t.Run("fnが成功した場合は全ての書き込みがコミットされること", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)

		first := mustSave(t, s, Notification{Message: "1件目", UserLogin: "alice"})
		second := mustSave(t, s, Notification{Message: "2件目", UserLogin: "alice"})

		err := s.withTx(context.Background(), func(tx *store) error {
			for _, id := range []int64{first.ID, second.ID} {
				n, err := tx.findByID(context.Background(), id)
				if err != nil {
					return err
				}
				n.Read = true
				if _, err := tx.save(context.Background(), n); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("withTx()でエラーが発生: %v", err)
		}

		for _, id := range []int64{first.ID, second.ID} {
			n, err := s.findByID(context.Background(), id)
			if err != nil {
				t.Fatalf("通知の取得に失敗: %v", err)
			}
			if !n.Read {
				t.Errorf("id=%d: Read = false, want true", id)
			}
		}
	})

	t.Run("fnがエラーを返した場合は部分的な書き込みも残らないこと", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)

		first := mustSave(t, s, Notification{Message: "1件目", UserLogin: "alice"})

		errBoom := errors.New("途中で失敗")
		err := s.withTx(context.Background(), func(tx *store) error {
			n, err := tx.findByID(context.Background(), first.ID)
			if err != nil {
				return err
			}
			n.Read = true
			if _, err := tx.save(context.Background(), n); err != nil {
				return err
			}
			return errBoom
		})
		if !errors.Is(err, errBoom) {
			t.Fatalf("err = %v, want %v", err, errBoom)
		}

		n, err := s.findByID(context.Background(), first.ID)
		if err != nil {
			t.Fatalf("通知の取得に失敗: %v", err)
		}
		if n.Read {
			t.Error("ロールバック後にReadがtrueのまま残っている")
		}
	})
}

// TestStoreSaveAll は一括保存を検証する。
func TestStoreSaveAll(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	first := mustSave(t, s, Notification{Message: "1件目", UserLogin: "alice"})
	second := mustSave(t, s, Notification{Message: "2件目", UserLogin: "alice"})

	first.Deleted = true
	second.Deleted = true
	if err := s.saveAll(context.Background(), []Notification{first, second}); err != nil {
		t.Fatalf("saveAll()でエラーが発生: %v", err)
	}

	for _, id := range []int64{first.ID, second.ID} {
		n, err := s.findByID(context.Background(), id)
		if err != nil {
			t.Fatalf("通知の取得に失敗: %v", err)
		}
		if !n.Deleted {
			t.Errorf("id=%d: Deleted = false, want true", id)
		}
	}
}
