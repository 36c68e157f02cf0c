package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIPAttemptTracker_AllowWithinBudget(t *testing.T) {
	tracker := NewIPAttemptTracker(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.True(t, tracker.Allow("198.51.100.1"))
	}
	require.False(t, tracker.Allow("198.51.100.1"))

	// Other clients have their own budget.
	require.True(t, tracker.Allow("198.51.100.2"))
}

func TestIPAttemptTracker_WindowResets(t *testing.T) {
	tracker := NewIPAttemptTracker(1, 10*time.Millisecond)

	require.True(t, tracker.Allow("198.51.100.1"))
	require.False(t, tracker.Allow("198.51.100.1"))

	time.Sleep(20 * time.Millisecond)
	require.True(t, tracker.Allow("198.51.100.1"))
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func TestLimitSigningAttempts_Throttles(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rm := NewRequestMiddleware(zap.NewNop(), denyAll{})
	router := gin.New()
	router.GET("/signing/:token", rm.LimitSigningAttempts(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/signing/abc", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestProcessRequest_SetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rm := NewRequestMiddleware(zap.NewNop(), NewIPAttemptTracker(10, time.Minute))
	router := gin.New()
	router.Use(rm.ProcessRequest())
	router.GET("/health", func(c *gin.Context) {
		require.NotEmpty(t, c.GetString("request_id"))
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRecoverPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rm := NewRequestMiddleware(zap.NewNop(), NewIPAttemptTracker(10, time.Minute))
	router := gin.New()
	router.Use(rm.RecoverPanic())
	router.GET("/boom", func(c *gin.Context) {
		panic("unexpected")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
}
