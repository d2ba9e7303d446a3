package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-chat/internal/common"
)

type createChatReq struct {
	Title    string `json:"title"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

func (h *Handler) CreateChat(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	var req createChatReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	ch, err := h.Ledger.CreateChat(c.Request.Context(), uid, req.Title, req.Model, req.Provider)
	if err != nil {
		respondErr(c, "create chat", err)
		return
	}
	common.OK(c, ch)
}

func (h *Handler) ListChats(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	chats, err := h.Ledger.ListChats(c.Request.Context(), uid)
	if err != nil {
		respondErr(c, "list chats", err)
		return
	}
	common.OK(c, gin.H{"chats": chats})
}

func (h *Handler) GetChat(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	ch, err := h.Ledger.GetChat(c.Request.Context(), uid, c.Param("chat_id"))
	if err != nil {
		respondErr(c, "get chat", err)
		return
	}
	common.OK(c, ch)
}

type updateTitleReq struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) UpdateChatTitle(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	var req updateTitleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	chatID := c.Param("chat_id")
	if err := h.Ledger.UpdateChatTitle(c.Request.Context(), uid, chatID, req.Title); err != nil {
		respondErr(c, "update chat title", err)
		return
	}
	common.OK(c, gin.H{"chat_id": chatID})
}

func (h *Handler) DeleteChat(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	chatID := c.Param("chat_id")
	if err := h.Ledger.DeleteChat(c.Request.Context(), uid, chatID); err != nil {
		respondErr(c, "delete chat", err)
		return
	}
	common.OK(c, gin.H{"chat_id": chatID})
}

func (h *Handler) ShareChat(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	token, err := h.Ledger.ShareChat(c.Request.Context(), uid, c.Param("chat_id"))
	if err != nil {
		respondErr(c, "share chat", err)
		return
	}
	common.OK(c, gin.H{"share_token": token})
}

func (h *Handler) UnshareChat(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	chatID := c.Param("chat_id")
	if err := h.Ledger.UnshareChat(c.Request.Context(), uid, chatID); err != nil {
		respondErr(c, "unshare chat", err)
		return
	}
	common.OK(c, gin.H{"chat_id": chatID})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	msgs, err := h.Ledger.GetChatMessages(c.Request.Context(), uid, c.Param("chat_id"))
	if err != nil {
		respondErr(c, "list messages", err)
		return
	}
	common.OK(c, gin.H{"messages": msgs})
}

// shared (no auth)

func (h *Handler) GetSharedChat(c *gin.Context) {
	ch, err := h.Ledger.GetSharedChat(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondErr(c, "get shared chat", err)
		return
	}
	common.OK(c, gin.H{
		"id":         ch.ID,
		"title":      ch.Title,
		"model":      ch.Model,
		"provider":   ch.Provider,
		"created_at": ch.CreatedAt,
	})
}

func (h *Handler) GetSharedChatMessages(c *gin.Context) {
	msgs, err := h.Ledger.GetSharedChatMessages(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondErr(c, "get shared messages", err)
		return
	}
	common.OK(c, gin.H{"messages": msgs})
}
