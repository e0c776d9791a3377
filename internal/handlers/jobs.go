package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/voxbridge/voxbridge-backend/internal/requestdata"
	"github.com/voxbridge/voxbridge-backend/internal/services"
	"github.com/voxbridge/voxbridge-backend/internal/types"
)

type JobHandler struct {
	jobService services.JobService
}

func NewJobHandler(jobService services.JobService) *JobHandler {
	return &JobHandler{jobService: jobService}
}

// SubmitJob accepts a multipart upload: the audio under "file" and an
// optional "settings_id" form value.
func (jh *JobHandler) SubmitJob(c *gin.Context) {
	rd, ok := authedRequestData(c)
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}

	var settingsID *int64
	if raw := c.PostForm("settings_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "validation", err)
			return
		}
		settingsID = &id
	}

	file, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	defer file.Close()

	job, err := jh.jobService.Submit(c.Request.Context(), rd.UserID,
		fileHeader.Filename, fileHeader.Header.Get("Content-Type"), file, settingsID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"id": job.ID})
}

func (jh *JobHandler) Count(c *gin.Context) {
	rd, ok := authedRequestData(c)
	if !ok {
		return
	}
	userID, ok := queryUserID(c, rd)
	if !ok {
		return
	}
	count, err := jh.jobService.Count(c.Request.Context(), rd, userID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"count": count})
}

func (jh *JobHandler) TopK(c *gin.Context) {
	rd, ok := authedRequestData(c)
	if !ok {
		return
	}
	userID, ok := queryUserID(c, rd)
	if !ok {
		return
	}
	k, err := strconv.Atoi(c.DefaultQuery("k", "100"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	jobs, err := jh.jobService.TopK(c.Request.Context(), rd, userID, k)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"jobs": jobs})
}

func (jh *JobHandler) Info(c *gin.Context) {
	rd, ok := authedRequestData(c)
	if !ok {
		return
	}
	ids, ok := queryJobIDs(c)
	if !ok {
		return
	}
	jobs, err := jh.jobService.Info(c.Request.Context(), rd, ids)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"jobs": jobs})
}

func (jh *JobHandler) Abort(c *gin.Context) {
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
	if err := jh.jobService.Abort(c.Request.Context(), rd, req.ID); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"id": req.ID})
}

func (jh *JobHandler) Delete(c *gin.Context) {
	rd, ok := authedRequestData(c)
	if !ok {
		return
	}
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	if err := jh.jobService.Delete(c.Request.Context(), rd, req.IDs); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": len(req.IDs)})
}

func (jh *JobHandler) GetTranscript(c *gin.Context) {
	rd, ok := authedRequestData(c)
	if !ok {
		return
	}
	jobID, err := strconv.ParseInt(c.Query("id"), 10, 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	format := types.TranscriptFormat(c.DefaultQuery("format", string(types.TranscriptFormatPlain)))
	transcript, err := jh.jobService.GetTranscript(c.Request.Context(), rd, jobID, format)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	text, structured, _ := transcript.Representation(format)
	if format == types.TranscriptFormatStructured {
		RespondOK(c, gin.H{"id": jobID, "format": format, "transcript": json.RawMessage(structured)})
		return
	}
	RespondOK(c, gin.H{"id": jobID, "format": format, "transcript": text})
}

func queryUserID(c *gin.Context, rd *requestdata.RequestData) (int64, bool) {
	raw := c.Query("user_id")
	if raw == "" {
		return rd.UserID, true
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return 0, false
	}
	return userID, true
}

func queryJobIDs(c *gin.Context) ([]int64, bool) {
	raw := c.QueryArray("id")
	if len(raw) == 0 {
		RespondError(c, http.StatusBadRequest, "validation", nil)
		return nil, false
	}
	ids := make([]int64, 0, len(raw))
	for _, r := range raw {
		id, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "validation", err)
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}
