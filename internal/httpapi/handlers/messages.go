package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-chat/internal/common"
)

type sendMessageReq struct {
	Content string `json:"content" binding:"required"`
}

// SendChatMessage answers once the run is scheduled. The reply streams into the
// assistant placeholder; clients read it or watch the chat.
func (h *Handler) SendChatMessage(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ack, err := h.Dispatch.SendMessage(c.Request.Context(), uid, c.Param("chat_id"), req.Content)
	if err != nil {
		respondErr(c, "send message", err)
		return
	}
	common.OK(c, ack)
}

func (h *Handler) RetryMessage(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := messageIDParam(c)
	if !ok {
		return
	}

	ack, err := h.Dispatch.RetryMessage(c.Request.Context(), uid, id)
	if err != nil {
		respondErr(c, "retry message", err)
		return
	}
	common.OK(c, ack)
}

func (h *Handler) GetMessage(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := messageIDParam(c)
	if !ok {
		return
	}

	m, err := h.Ledger.GetMessage(c.Request.Context(), uid, id)
	if err != nil {
		respondErr(c, "get message", err)
		return
	}
	common.OK(c, m)
}

type editMessageReq struct {
	Content *string `json:"content" binding:"required"`
}

func (h *Handler) EditMessage(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := messageIDParam(c)
	if !ok {
		return
	}

	var req editMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	m, err := h.Ledger.EditMessage(c.Request.Context(), uid, id, *req.Content)
	if err != nil {
		respondErr(c, "edit message", err)
		return
	}
	common.OK(c, m)
}

type updateContentReq struct {
	Content           *string `json:"content" binding:"required"`
	IsStreaming       bool    `json:"is_streaming"`
	StreamingComplete bool    `json:"streaming_complete"`
}

func (h *Handler) UpdateMessageContent(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := messageIDParam(c)
	if !ok {
		return
	}

	var req updateContentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if err := h.Ledger.UpdateMessageContent(c.Request.Context(), uid, id, *req.Content, req.IsStreaming, req.StreamingComplete); err != nil {
		respondErr(c, "update message content", err)
		return
	}
	common.OK(c, gin.H{"message_id": id})
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := messageIDParam(c)
	if !ok {
		return
	}

	if err := h.Ledger.DeleteMessage(c.Request.Context(), uid, id); err != nil {
		respondErr(c, "delete message", err)
		return
	}
	common.OK(c, gin.H{"message_id": id})
}
