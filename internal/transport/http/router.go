package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/ErlanBelekov/table-sync/internal/transport/http/handler"
	"github.com/ErlanBelekov/table-sync/internal/transport/http/middleware"
)

func NewRouter(logger *slog.Logger, taskHandler *handler.TaskHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	tasks := r.Group("/tasks")
	tasks.GET("", taskHandler.List)
	tasks.GET("/:name", taskHandler.Get)
	tasks.POST("/:name/run", taskHandler.Run)

	r.POST("/reload", taskHandler.Reload)

	return r
}
