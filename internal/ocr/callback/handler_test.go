package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/envelope"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/ocrerr"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResumer struct {
	resumed bool
	err     error
}

func (f *fakeResumer) HandleCallback(ctx context.Context, correlationID string, verdict envelope.ValidatorVerdict) (bool, error) {
	return f.resumed, f.err
}

func newTestRouter(resumer Resumer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(resumer)
	r.POST("/internal/validation/callback", h.HandleValidationCallback)
	return r
}

func doCallback(t *testing.T, r *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/internal/validation/callback", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleValidationCallback_ResumedReturns200(t *testing.T) {
	r := newTestRouter(&fakeResumer{resumed: true})

	body := envelope.CallbackRequest{
		CorrelationID: "11111111-1111-1111-1111-111111111111",
		Verdict:       envelope.ValidatorVerdict{IsValid: true, Confidence: 0.9, Reason: "ok"},
	}

	w := doCallback(t, r, body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleValidationCallback_UnknownCorrelationIDReturns404(t *testing.T) {
	r := newTestRouter(&fakeResumer{resumed: false})

	body := envelope.CallbackRequest{
		CorrelationID: "11111111-1111-1111-1111-111111111111",
		Verdict:       envelope.ValidatorVerdict{IsValid: true},
	}

	w := doCallback(t, r, body)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleValidationCallback_MissingCorrelationIDReturns400(t *testing.T) {
	r := newTestRouter(&fakeResumer{resumed: true})

	w := doCallback(t, r, map[string]interface{}{
		"verdict": map[string]interface{}{"is_valid": true},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleValidationCallback_ResumerErrorReturns500(t *testing.T) {
	r := newTestRouter(&fakeResumer{err: ocrerr.New(ocrerr.CodeInternal, "state store unavailable")})

	body := envelope.CallbackRequest{
		CorrelationID: "11111111-1111-1111-1111-111111111111",
		Verdict:       envelope.ValidatorVerdict{IsValid: true},
	}

	w := doCallback(t, r, body)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
