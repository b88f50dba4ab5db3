package routes

import (
    "github.com/gin-gonic/gin"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/feichai0017/document-rag/api/handlers"
    "github.com/feichai0017/document-rag/api/middleware"
    "github.com/feichai0017/document-rag/pkg/logger"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, corsOrigins []string, log logger.Logger) {
    // 全局中间件
    r.Use(gin.Recovery())
    r.Use(middleware.RequestLogger(log))
    r.Use(middleware.Metrics())
    r.Use(middleware.CORS(corsOrigins))

    r.GET("/health", handlers.Health)
    r.GET("/metrics", gin.WrapH(promhttp.Handler()))

    rag := r.Group("/rag")
    {
        rag.POST("/upload", h.Document.Upload)
        rag.POST("/ask", h.Document.Ask)
        rag.GET("/status", h.Document.Status)
        rag.GET("/tasks/:docId", h.Document.TaskStatus)
    }

    docs := rag.Group("/documents")
    {
        docs.GET("/:docId", h.Document.Document)
        docs.DELETE("/:docId", h.Document.Delete)
        docs.GET("/:docId/download", h.Document.Download)
    }
}
