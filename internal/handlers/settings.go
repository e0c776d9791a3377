package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voxbridge/voxbridge-backend/internal/services"
	"github.com/voxbridge/voxbridge-backend/internal/types"
)

type SettingsHandler struct {
	settingsService services.SettingsService
}

func NewSettingsHandler(settingsService services.SettingsService) *SettingsHandler {
	return &SettingsHandler{settingsService: settingsService}
}

func (sh *SettingsHandler) Create(c *gin.Context) {
	rd, ok := authedRequestData(c)
	if !ok {
		return
	}
	var settings types.JobSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	created, err := sh.settingsService.Create(c.Request.Context(), rd.UserID, &settings)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, created)
}

func (sh *SettingsHandler) List(c *gin.Context) {
	rd, ok := authedRequestData(c)
	if !ok {
		return
	}
	settings, err := sh.settingsService.List(c.Request.Context(), rd.UserID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"settings": settings})
}

func (sh *SettingsHandler) SetDefault(c *gin.Context) {
	rd, ok := authedRequestData(c)
	if !ok {
		return
	}
	var req struct {
		ID int64 `json:"id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	if err := sh.settingsService.SetDefault(c.Request.Context(), rd.UserID, req.ID); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"id": req.ID})
}
