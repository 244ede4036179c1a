// README: HTTP router registration for the status API.
package http

import (
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"ridesim/internal/http/handlers"
	"ridesim/internal/http/middleware"
)

func NewRouter(source handlers.StatusSource, logger *log.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(logger), middleware.Logging(logger))

	status := handlers.NewStatusHandler(source)
	r.GET("/health", status.Health)
	r.GET("/status", status.Status)
	r.GET("/queue", status.Queue)
	r.GET("/persons/:id/rides", status.PersonRides)
	return r
}
