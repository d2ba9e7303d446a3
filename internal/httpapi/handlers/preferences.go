package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-chat/internal/common"
)

func (h *Handler) GetPreferences(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	p, err := h.Ledger.GetPreferences(c.Request.Context(), uid)
	if err != nil {
		respondErr(c, "get preferences", err)
		return
	}
	common.OK(c, p)
}

type preferencesReq struct {
	DefaultModel    string `json:"default_model"`
	DefaultProvider string `json:"default_provider"`
}

func (h *Handler) SetPreferences(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	var req preferencesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	p, err := h.Ledger.SetPreferences(c.Request.Context(), uid, req.DefaultModel, req.DefaultProvider)
	if err != nil {
		respondErr(c, "set preferences", err)
		return
	}
	common.OK(c, p)
}
