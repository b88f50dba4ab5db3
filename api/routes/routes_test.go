package routes

import (
    "net/http"
    "net/http/httptest"
    "testing"

    "github.com/gin-gonic/gin"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/feichai0017/document-rag/api/handlers"
    "github.com/feichai0017/document-rag/api/middleware"
    "github.com/feichai0017/document-rag/internal/utils/validator"
    "github.com/feichai0017/document-rag/pkg/logger"
)

func newEngine(t *testing.T, origins []string) (*gin.Engine, *logger.TestLogger) {
    t.Helper()
    gin.SetMode(gin.TestMode)
    log := logger.NewTestLogger()
    h := handlers.NewHandlers(nil, validator.NewDocumentValidator(log, nil), 0, log)
    r := gin.New()
    SetupRoutes(r, h, origins, log)
    return r, log
}

func TestHealthAndRequestID(t *testing.T) {
    r, log := newEngine(t, nil)

    w := httptest.NewRecorder()
    r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
    require.Equal(t, http.StatusOK, w.Code)
    assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
    assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
    assert.True(t, log.Contains("INFO", "Request handled"))

    req := httptest.NewRequest(http.MethodGet, "/health", nil)
    req.Header.Set(middleware.RequestIDHeader, "req-42")
    w = httptest.NewRecorder()
    r.ServeHTTP(w, req)
    assert.Equal(t, "req-42", w.Header().Get(middleware.RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
    r, _ := newEngine(t, nil)
    r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

    w := httptest.NewRecorder()
    r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
    require.Equal(t, http.StatusOK, w.Code)
    assert.Contains(t, w.Body.String(), `rag_http_requests_total{method="GET",route="/health",status="200"}`)
}

func TestUnknownRouteIsLogged(t *testing.T) {
    r, log := newEngine(t, nil)
    w := httptest.NewRecorder()
    r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rag/nothing", nil))
    assert.Equal(t, http.StatusNotFound, w.Code)
    assert.True(t, log.Contains("WARN", "Request rejected"))
}

func TestCORS(t *testing.T) {
    r, _ := newEngine(t, []string{"http://app.example"})

    req := httptest.NewRequest(http.MethodGet, "/health", nil)
    req.Header.Set("Origin", "http://app.example")
    w := httptest.NewRecorder()
    r.ServeHTTP(w, req)
    assert.Equal(t, "http://app.example", w.Header().Get("Access-Control-Allow-Origin"))

    req = httptest.NewRequest(http.MethodGet, "/health", nil)
    req.Header.Set("Origin", "http://evil.example")
    w = httptest.NewRecorder()
    r.ServeHTTP(w, req)
    assert.Equal(t, http.StatusForbidden, w.Code)
}
