package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-chat/internal/common"
	"github.com/suPer8Hu/ai-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-chat/internal/httpapi/middleware"
)

// NewRouter wires every route. limiter may be nil to disable rate limiting.
func NewRouter(h *handlers.Handler, limiter middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	// users
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	// shared chats are public
	r.GET("/shared/:token", h.GetSharedChat)
	r.GET("/shared/:token/messages", h.GetSharedChatMessages)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	limited := middleware.RateLimit(limiter, h.Cfg.RateLimitQPS)

	// chats
	authGroup.POST("/chats", h.CreateChat)
	authGroup.GET("/chats", h.ListChats)
	authGroup.GET("/chats/:chat_id", h.GetChat)
	authGroup.PATCH("/chats/:chat_id", h.UpdateChatTitle)
	authGroup.DELETE("/chats/:chat_id", h.DeleteChat)
	authGroup.POST("/chats/:chat_id/share", h.ShareChat)
	authGroup.DELETE("/chats/:chat_id/share", h.UnshareChat)
	authGroup.GET("/chats/:chat_id/messages", h.ListChatMessages)
	authGroup.GET("/chats/:chat_id/messages/watch", h.WatchChatMessages)
	authGroup.POST("/chats/:chat_id/messages", limited, h.SendChatMessage)

	// messages
	authGroup.GET("/messages/:message_id", h.GetMessage)
	authGroup.PATCH("/messages/:message_id", h.EditMessage)
	authGroup.PUT("/messages/:message_id/content", h.UpdateMessageContent)
	authGroup.DELETE("/messages/:message_id", h.DeleteMessage)
	authGroup.POST("/messages/:message_id/retry", limited, h.RetryMessage)

	// preferences
	authGroup.GET("/preferences", h.GetPreferences)
	authGroup.PUT("/preferences", h.SetPreferences)

	return r
}
