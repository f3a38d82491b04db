package notification

// Notification は予約に紐づくユーザー通知を表す。
// IDはストアが採番し、以後変更されない。UserLoginは作成後に変更しない想定。
type Notification struct {
	// ID は通知の一意識別子。0は未採番を意味する。
	ID int64
	// Message は通知メッセージ本文。必須。
	Message string
	// ReservationID は外部の予約への参照。任意。
	ReservationID *int64
	// UserLogin は所有ユーザーのログイン名。必須。大文字小文字を区別しない。
	UserLogin string
	// Deleted は論理削除フラグ。trueの場合、ユーザー向け一覧から隠される。
	Deleted bool
	// Read は既読フラグ。
	Read bool
}

// notificationPatch は部分更新で上書きするフィールドを表す。
// nilのフィールドは変更しない。
type notificationPatch struct {
	Message       *string
	ReservationID *int64
	UserLogin     *string
	Deleted       *bool
	Read          *bool
}

// apply はパッチで指定されたフィールドのみを既存の通知に反映する。
func (p notificationPatch) apply(n Notification) Notification {
	if p.Message != nil {
		n.Message = *p.Message
	}
	if p.ReservationID != nil {
		n.ReservationID = p.ReservationID
	}
	if p.UserLogin != nil {
		n.UserLogin = *p.UserLogin
	}
	if p.Deleted != nil {
		n.Deleted = *p.Deleted
	}
	if p.Read != nil {
		n.Read = *p.Read
	}
	return n
}
