package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-chat/internal/chat"
	"github.com/suPer8Hu/ai-chat/internal/common"
	"github.com/suPer8Hu/ai-chat/internal/config"
	"github.com/suPer8Hu/ai-chat/internal/dispatch"
	"github.com/suPer8Hu/ai-chat/internal/httpapi/middleware"
	"gorm.io/gorm"
)

// ChatUpdates wakes chat watchers. Implemented by redisstore.Store.
type ChatUpdates interface {
	SubscribeChatUpdates(ctx context.Context, chatID string) (<-chan struct{}, func() error, error)
}

type Handler struct {
	DB       *gorm.DB
	Cfg      config.Config
	Ledger   *chat.Service
	Dispatch *dispatch.Dispatcher
	Updates  ChatUpdates // optional

	// watch endpoint pacing
	WatchPoll time.Duration
	Heartbeat time.Duration
}

func NewHandler(db *gorm.DB, cfg config.Config, ledger *chat.Service, disp *dispatch.Dispatcher, updates ChatUpdates) *Handler {
	return &Handler{
		DB:        db,
		Cfg:       cfg,
		Ledger:    ledger,
		Dispatch:  disp,
		Updates:   updates,
		WatchPoll: time.Second,
		Heartbeat: 15 * time.Second,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok && id != 0
}

// currentUser answers 401 and returns false when the request carries no user.
func currentUser(c *gin.Context) (uint64, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}

func messageIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("message_id"), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid message id")
		return 0, false
	}
	return id, true
}

// respondErr maps ledger and dispatch errors onto the response envelope.
func respondErr(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	case errors.Is(err, chat.ErrNotAuthorized):
		common.Fail(c, http.StatusForbidden, 40301, "not authorized")
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "not found")
	case errors.Is(err, chat.ErrInvalidOperation):
		common.Fail(c, http.StatusBadRequest, 40001, err.Error())
	default:
		slog.Error(op,
			slog.String("request_id", c.GetString(middleware.RequestIDKey)),
			slog.String("error", err.Error()),
		)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
