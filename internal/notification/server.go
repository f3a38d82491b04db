package notification

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/nao1215/resanotify/pkg/config"
	"github.com/nao1215/resanotify/pkg/middleware"
)

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// store は通知レコードの永続化層。
	store *store
	// service は通知のライフサイクル管理。
	service *service
}

// NewServer は新しい通知サーバーを生成する。
// SQLiteデータベースの初期化とマイグレーション適用を行う。
func NewServer(cfg *config.Config) (*Server, error) {
	sqlDB, err := sql.Open("sqlite",
		fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", cfg.DatabasePath))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(gin.Logger())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(middleware.CORS(cfg.AllowedOrigins))
	}

	st := newStore(sqlDB)
	s := &Server{
		router:  router,
		port:    cfg.Port,
		db:      sqlDB,
		store:   st,
		service: newService(st, middleware.UserLoginFromContext),
	}
	s.setupRoutes(cfg.JWTSecret)

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(jwtSecret string) {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	s.registerRoutes(api)

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// registerRoutes は通知APIのルートをグループ配下に登録する。
// 認証ミドルウェアは呼び出し側がグループに適用する。
func (s *Server) registerRoutes(api *gin.RouterGroup) {
	notifications := api.Group("/notifications")
	{
		// 通知作成
		notifications.POST("", s.handleCreate())
		// 条件検索（ページネーション付き）
		notifications.GET("", s.handleQuery())
		// 条件検索の件数
		notifications.GET("/count", s.handleCount())
		// 現在のユーザーの通知履歴（論理削除済みを含む）
		notifications.GET("/history", s.handleHistory())
		// 現在のユーザーの未読通知履歴
		notifications.GET("/history/non-lue", s.handleUnreadHistory())
		// 指定ユーザーの未読通知件数
		notifications.GET("/non-lue", s.handleUnreadCount())
		// 通知の取得
		notifications.GET("/:id", s.handleGetByID())
		// 通知の全体更新
		notifications.PUT("/:id", s.handleUpdate())
		// 現在のユーザーの全通知を既読化
		notifications.PATCH("/read-all", s.handleMarkAllRead())
		// 通知の部分更新
		notifications.PATCH("/:id", s.handlePartialUpdate())
		// 通知を既読にする
		notifications.PATCH("/:id/read", s.handleMarkRead())
		// ウェルカム通知の作成
		notifications.POST("/welcome", s.handleWelcome())
		// 指定ユーザーの全通知を論理削除（管理用）
		notifications.DELETE("/user/:userLogin", s.handleSoftDeleteAllForUser())
		// 通知の物理削除（管理用）
		notifications.DELETE("/:id", s.handleHardDelete())
	}
}

// notificationRequest は通知の作成・更新リクエストのJSON構造。
// 部分更新でも使用するため、フィールドの有無を区別できるよう全てポインタにしている。
type notificationRequest struct {
	// ID は通知の一意識別子。作成時は指定禁止。
	ID *int64 `json:"id"`
	// Message は通知メッセージ本文。
	Message *string `json:"message"`
	// ReservationID は外部の予約への参照。
	ReservationID *int64 `json:"reservation_id"`
	// UserLogin は所有ユーザーのログイン名。
	UserLogin *string `json:"user_login"`
	// Deleted は論理削除フラグ。
	Deleted *bool `json:"deleted"`
	// Read は既読フラグ。
	Read *bool `json:"read"`
}

// toNotification はリクエストを通知レコードに変換する。未指定フィールドはゼロ値になる。
func (r notificationRequest) toNotification() Notification {
	var n Notification
	if r.ID != nil {
		n.ID = *r.ID
	}
	if r.Message != nil {
		n.Message = *r.Message
	}
	n.ReservationID = r.ReservationID
	if r.UserLogin != nil {
		n.UserLogin = *r.UserLogin
	}
	if r.Deleted != nil {
		n.Deleted = *r.Deleted
	}
	if r.Read != nil {
		n.Read = *r.Read
	}
	return n
}

// toPatch はリクエストを部分更新のパッチに変換する。
func (r notificationRequest) toPatch() notificationPatch {
	return notificationPatch{
		Message:       r.Message,
		ReservationID: r.ReservationID,
		UserLogin:     r.UserLogin,
		Deleted:       r.Deleted,
		Read:          r.Read,
	}
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID int64 `json:"id"`
	// Message は通知メッセージ本文。
	Message string `json:"message"`
	// ReservationID は外部の予約への参照。未設定の場合はnull。
	ReservationID *int64 `json:"reservation_id"`
	// UserLogin は所有ユーザーのログイン名。
	UserLogin string `json:"user_login"`
	// Deleted は論理削除フラグ。
	Deleted bool `json:"deleted"`
	// Read は既読フラグ。
	Read bool `json:"read"`
}

// toNotificationResponse は通知レコードをJSONレスポンスに変換する。
func toNotificationResponse(n Notification) notificationResponse {
	return notificationResponse{
		ID:            n.ID,
		Message:       n.Message,
		ReservationID: n.ReservationID,
		UserLogin:     n.UserLogin,
		Deleted:       n.Deleted,
		Read:          n.Read,
	}
}

// toNotificationResponses は通知レコードのスライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(notifications []Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, toNotificationResponse(n))
	}
	return responses
}

// pathID はパスパラメータから通知IDを取得する。不正な場合は400を返してfalseを返す。
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが不正です", "code": "idinvalid"})
		return 0, false
	}
	return id, true
}

// handleCreate は通知作成を処理するハンドラを返す。
// IDが指定されている場合は400を返す（IDはストアが採番する）。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notificationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.ID != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "新規作成時にIDは指定できません", "code": "idexists"})
			return
		}

		created, err := s.service.create(c.Request.Context(), req.toNotification())
		if errors.Is(err, errValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "required"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			log.Printf("通知作成エラー: %v", err)
			return
		}

		c.Header("Location", fmt.Sprintf("/api/v1/notifications/%d", created.ID))
		c.JSON(http.StatusCreated, toNotificationResponse(created))
	}
}

// bindUpdateRequest は更新系リクエストを読み取り、パスのIDとボディのIDの整合を検証する。
func bindUpdateRequest(c *gin.Context) (int64, notificationRequest, bool) {
	id, ok := pathID(c)
	if !ok {
		return 0, notificationRequest{}, false
	}

	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
		return 0, notificationRequest{}, false
	}
	if req.ID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "IDは必須です", "code": "idnull"})
		return 0, notificationRequest{}, false
	}
	if *req.ID != id {
		c.JSON(http.StatusBadRequest, gin.H{"error": "パスとボディのIDが一致しません", "code": "idinvalid"})
		return 0, notificationRequest{}, false
	}
	return id, req, true
}

// handleUpdate は通知の全体更新を処理するハンドラを返す。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, req, ok := bindUpdateRequest(c)
		if !ok {
			return
		}

		updated, err := s.service.update(c.Request.Context(), req.toNotification())
		switch {
		case errors.Is(err, errValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "required"})
		case errors.Is(err, errNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません", "code": "idnotfound"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の更新に失敗しました"})
			log.Printf("通知更新エラー: %v", err)
		default:
			c.JSON(http.StatusOK, toNotificationResponse(updated))
		}
	}
}

// handlePartialUpdate は通知の部分更新を処理するハンドラを返す。
// ボディに含まれないフィールドは変更しない。
func (s *Server) handlePartialUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, req, ok := bindUpdateRequest(c)
		if !ok {
			return
		}

		updated, err := s.service.partialUpdate(c.Request.Context(), id, req.toPatch())
		switch {
		case errors.Is(err, errNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません", "code": "idnotfound"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の部分更新に失敗しました"})
			log.Printf("通知部分更新エラー: %v", err)
		default:
			c.JSON(http.StatusOK, toNotificationResponse(updated))
		}
	}
}

// handleQuery は条件検索を処理するハンドラを返す。
// 総件数をX-Total-Countヘッダーに、前後ページへのリンクをLinkヘッダーに設定する。
func (s *Server) handleQuery() gin.HandlerFunc {
	return func(c *gin.Context) {
		values := c.Request.URL.Query()
		conds, err := parseCriteria(values)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		page, err := parsePageRequest(values)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		notifications, total, err := s.store.query(c.Request.Context(), conds, page)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の検索に失敗しました"})
			log.Printf("通知検索エラー: %v", err)
			return
		}

		c.Header("X-Total-Count", strconv.FormatInt(total, 10))
		c.Header("Link", buildLinkHeader(c.Request.URL, page, total))
		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleCount は条件検索の件数取得を処理するハンドラを返す。
// 同一条件でのhandleQueryの総件数と必ず一致する。
func (s *Server) handleCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		conds, err := parseCriteria(c.Request.URL.Query())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		count, err := s.store.countByConditions(c.Request.Context(), conds)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知件数の取得に失敗しました"})
			log.Printf("通知件数取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, count)
	}
}

// handleGetByID は通知1件の取得を処理するハンドラを返す。
func (s *Server) handleGetByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		n, err := s.service.getByID(c.Request.Context(), id)
		switch {
		case errors.Is(err, errNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の取得に失敗しました"})
			log.Printf("通知取得エラー: %v", err)
		default:
			c.JSON(http.StatusOK, toNotificationResponse(n))
		}
	}
}

// handleHardDelete は通知の物理削除を処理するハンドラを返す。
// トゥームストーンを経由せず、不可逆に削除する。存在しないIDでも204を返す。
func (s *Server) handleHardDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		if err := s.service.hardDelete(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の削除に失敗しました"})
			log.Printf("通知削除エラー: %v", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handleWelcome はウェルカム通知の作成を処理するハンドラを返す。
// 既読フラグなどを事前設定した通知を作成できる。
func (s *Server) handleWelcome() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notificationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		created, err := s.service.welcome(c.Request.Context(), req.toNotification())
		if errors.Is(err, errValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "required"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ウェルカム通知の作成に失敗しました"})
			log.Printf("ウェルカム通知作成エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toNotificationResponse(created))
	}
}

// handleHistory は現在のユーザーの通知履歴（論理削除済みを含む）を返すハンドラを返す。
func (s *Server) handleHistory() gin.HandlerFunc {
	return func(c *gin.Context) {
		notifications, err := s.service.historyForCurrentUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知履歴の取得に失敗しました"})
			log.Printf("通知履歴取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleUnreadHistory は現在のユーザーの有効かつ未読の通知を返すハンドラを返す。
func (s *Server) handleUnreadHistory() gin.HandlerFunc {
	return func(c *gin.Context) {
		notifications, err := s.service.unreadHistoryForCurrentUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知履歴の取得に失敗しました"})
			log.Printf("未読通知履歴取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleMarkRead は通知1件の既読化を処理するハンドラを返す。
func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		err := s.service.markRead(c.Request.Context(), id)
		switch {
		case errors.Is(err, errNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			log.Printf("通知既読処理エラー: %v", err)
		default:
			c.Status(http.StatusNoContent)
		}
	}
}

// handleMarkAllRead は現在のユーザーの全通知既読化を処理するハンドラを返す。
// ユーザーが解決できない場合も204を返す（何も既読化されない）。
func (s *Server) handleMarkAllRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.service.markAllReadForCurrentUser(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			log.Printf("全通知既読処理エラー: %v", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handleSoftDeleteAllForUser は指定ユーザーの全通知の論理削除を処理するハンドラを返す。
// 管理用の一括操作であり、明示的なログイン名を受け取る。
func (s *Server) handleSoftDeleteAllForUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		login := c.Param("userLogin")
		if err := s.service.softDeleteAllForUser(c.Request.Context(), login); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の一括削除に失敗しました"})
			log.Printf("通知一括削除エラー: %v", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handleUnreadCount は指定ユーザーの未読通知件数を返すハンドラを返す。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		login := c.Query("userLogin")
		if login == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userLoginパラメータは必須です"})
			return
		}

		count, err := s.service.unreadCount(c.Request.Context(), login)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知件数の取得に失敗しました"})
			log.Printf("未読通知件数取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, count)
	}
}

// buildLinkHeader はページネーション用のLinkヘッダーを組み立てる。
// 検索条件のパラメータは維持したままページ番号だけを差し替える。
func buildLinkHeader(requestURL *url.URL, page pageRequest, total int64) string {
	lastPage := 0
	if total > 0 {
		lastPage = int((total - 1) / int64(page.size))
	}

	link := func(pageNumber int, rel string) string {
		values := requestURL.Query()
		values.Set("page", strconv.Itoa(pageNumber))
		values.Set("size", strconv.Itoa(page.size))
		return fmt.Sprintf(`<%s?%s>; rel="%s"`, requestURL.Path, values.Encode(), rel)
	}

	links := make([]string, 0, 4)
	if page.page < lastPage {
		links = append(links, link(page.page+1, "next"))
	}
	if page.page > 0 {
		links = append(links, link(page.page-1, "prev"))
	}
	links = append(links, link(lastPage, "last"), link(0, "first"))
	return strings.Join(links, ",")
}
