package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/services"
	"github.com/voxbridge/voxbridge-backend/internal/types"
)

// sessionTokenHeader carries the per-registration session token; the
// long-lived runner credential travels as a bearer token.
const sessionTokenHeader = "X-Session-Token"

type RunnerHandler struct {
	log           *logger.Logger
	runnerService services.RunnerService
}

func NewRunnerHandler(baseLog *logger.Logger, runnerService services.RunnerService) *RunnerHandler {
	return &RunnerHandler{
		log:           baseLog.With("handler", "RunnerHandler"),
		runnerService: runnerService,
	}
}

func runnerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:], true
	}
	return "", false
}

func (rh *RunnerHandler) tokens(c *gin.Context) (string, string, bool) {
	credential, ok := runnerToken(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing runner token"))
		return "", "", false
	}
	session := c.GetHeader(sessionTokenHeader)
	if session == "" {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing session token"))
		return "", "", false
	}
	return credential, session, true
}

// Create accredits a new runner. Admin only; the raw token is shown once.
func (rh *RunnerHandler) Create(c *gin.Context) {
	id, token, err := rh.runnerService.CreateIdentity(c.Request.Context())
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"id": id, "token": token})
}

func (rh *RunnerHandler) Register(c *gin.Context) {
	credential, ok := runnerToken(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing runner token"))
		return
	}
	var decl services.RunnerDeclaration
	if err := c.ShouldBindJSON(&decl); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	result, err := rh.runnerService.Register(c.Request.Context(), credential, decl)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, result)
}

func (rh *RunnerHandler) Unregister(c *gin.Context) {
	credential, session, ok := rh.tokens(c)
	if !ok {
		return
	}
	if err := rh.runnerService.Unregister(c.Request.Context(), credential, session); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "unregistered"})
}

func (rh *RunnerHandler) RetrieveJobInfo(c *gin.Context) {
	credential, session, ok := rh.tokens(c)
	if !ok {
		return
	}
	info, err := rh.runnerService.RetrieveJobInfo(c.Request.Context(), credential, session)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, info)
}

// RetrieveJobAudio streams the assigned job's audio chunk by chunk;
// nothing larger than one chunk is held in memory.
func (rh *RunnerHandler) RetrieveJobAudio(c *gin.Context) {
	credential, session, ok := rh.tokens(c)
	if !ok {
		return
	}
	stream, err := rh.runnerService.RetrieveJobAudio(c.Request.Context(), credential, session)
	if err != nil {
		RespondServiceError(c, err)
		return
	}

	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", stream.FileName))
	c.Status(http.StatusOK)
	for {
		chunk, err := stream.Chunks.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			// The status line is gone; all we can do is cut the stream.
			rh.log.Error("Audio stream failed mid-transfer", "error", err)
			c.Abort()
			return
		}
		if _, err := c.Writer.Write(chunk); err != nil {
			rh.log.Debug("Runner dropped the audio stream", "error", err)
			return
		}
		c.Writer.Flush()
	}
}

func (rh *RunnerHandler) SubmitJobResult(c *gin.Context) {
	credential, session, ok := rh.tokens(c)
	if !ok {
		return
	}
	var req struct {
		ErrorMsg   *string `json:"error_msg"`
		Transcript *struct {
			Plain        string         `json:"plain"`
			TimeCoded    string         `json:"timecoded"`
			TabSeparated string         `json:"tsv"`
			Captioned    string         `json:"captioned"`
			Structured   datatypes.JSON `json:"structured"`
		} `json:"transcript"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	if req.ErrorMsg == nil && req.Transcript == nil {
		RespondError(c, http.StatusBadRequest, "validation",
			errors.New("result carries neither transcript nor error"))
		return
	}

	result := services.JobResult{ErrorMsg: req.ErrorMsg}
	if req.Transcript != nil {
		result.Transcript = &types.Transcript{
			Plain:        req.Transcript.Plain,
			TimeCoded:    req.Transcript.TimeCoded,
			TabSeparated: req.Transcript.TabSeparated,
			Captioned:    req.Transcript.Captioned,
			Structured:   req.Transcript.Structured,
		}
	}
	if err := rh.runnerService.SubmitResult(c.Request.Context(), credential, session, result); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "result accepted"})
}

func (rh *RunnerHandler) Heartbeat(c *gin.Context) {
	credential, session, ok := rh.tokens(c)
	if !ok {
		return
	}
	var req struct {
		Progress float64 `json:"progress"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	result, err := rh.runnerService.Heartbeat(c.Request.Context(), credential, session, req.Progress)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, result)
}
