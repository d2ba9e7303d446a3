package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-chat/internal/chat"
)

func anyStreaming(msgs []chat.Message) bool {
	for i := range msgs {
		if msgs[i].IsStreaming {
			return true
		}
	}
	return false
}

// WatchChatMessages streams the chat's message list over SSE. A "snapshot" event
// is sent whenever the list changes and "done" once nothing is streaming.
func (h *Handler) WatchChatMessages(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	chatID := c.Param("chat_id")
	ctx := c.Request.Context()

	// ownership is checked before any SSE bytes go out
	if _, err := h.Ledger.GetChat(ctx, uid, chatID); err != nil {
		respondErr(c, "watch chat", err)
		return
	}

	var wake <-chan struct{}
	if h.Updates != nil {
		ch, closeSub, err := h.Updates.SubscribeChatUpdates(ctx, chatID)
		if err != nil {
			slog.Warn("chat updates unavailable, polling", slog.String("chat_id", chatID), slog.String("error", err.Error()))
		} else {
			wake = ch
			defer func() { _ = closeSub() }()
		}
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		respondErr(c, "watch chat", fmt.Errorf("response writer cannot flush"))
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeEvent := func(event string, data []byte) {
		fmt.Fprintf(c.Writer, "event: %s\n", event)
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		flusher.Flush()
	}
	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			writeEvent("error", []byte(`{"message":"json marshal failed"}`))
			return
		}
		writeEvent(event, b)
	}

	var last []byte
	// refresh sends a snapshot when the list changed and reports whether watching should stop.
	refresh := func() bool {
		msgs, err := h.Ledger.GetChatMessages(ctx, uid, chatID)
		if err != nil {
			writeJSON("error", gin.H{"type": "error", "message": "chat unavailable"})
			return true
		}
		b, err := json.Marshal(gin.H{"type": "snapshot", "messages": msgs})
		if err != nil {
			writeEvent("error", []byte(`{"message":"json marshal failed"}`))
			return true
		}
		if !bytes.Equal(b, last) {
			last = b
			writeEvent("snapshot", b)
		}
		if !anyStreaming(msgs) {
			writeJSON("done", gin.H{"type": "done"})
			return true
		}
		return false
	}

	if refresh() {
		return
	}

	poll := time.NewTicker(h.WatchPoll)
	defer poll.Stop()
	heartbeat := time.NewTicker(h.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			if refresh() {
				return
			}

		case <-poll.C:
			if refresh() {
				return
			}

		case <-heartbeat.C:
			writeJSON("ping", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})
		}
	}
}
