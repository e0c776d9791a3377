package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/voxbridge/voxbridge-backend/internal/requestdata"
)

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, rec
}

// Every user-facing handler sits behind RequireAuth, but none may assume
// it: a request that slipped through without an identity gets a 401, not
// a panic.
func TestHandlersRejectMissingIdentity(t *testing.T) {
	cases := map[string]func(*gin.Context){
		"jobs count":       NewJobHandler(nil).Count,
		"jobs submit":      NewJobHandler(nil).SubmitJob,
		"jobs transcript":  NewJobHandler(nil).GetTranscript,
		"settings list":    NewSettingsHandler(nil).List,
		"settings default": NewSettingsHandler(nil).SetDefault,
		"events stream":    NewEventHandler(nil).Stream,
	}
	for name, handler := range cases {
		c, rec := newTestContext(t)
		handler(c)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", name, rec.Code)
		}
	}
}

func TestHandlersAcceptAttachedIdentity(t *testing.T) {
	c, rec := newTestContext(t)
	ctx := requestdata.WithRequestData(c.Request.Context(), &requestdata.RequestData{UserID: 7})
	c.Request = c.Request.WithContext(ctx)

	rd, ok := authedRequestData(c)
	if !ok || rd == nil || rd.UserID != 7 {
		t.Fatalf("identity not recovered: (%+v, %v), status %d", rd, ok, rec.Code)
	}
}
