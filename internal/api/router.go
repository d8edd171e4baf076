package api

import (
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/datallboy/dlqueue/internal/api/controllers"
	"github.com/datallboy/dlqueue/internal/app"
)

func RegisterRoutes(e *echo.Echo, app *app.Context) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	jobCtrl := &controllers.JobController{App: app}
	eventsCtrl := &controllers.EventsController{App: app}

	jobs := e.Group("/api/jobs")
	jobs.GET("", jobCtrl.List)
	jobs.POST("", jobCtrl.Submit)
	jobs.GET("/:id", jobCtrl.Get)
	jobs.DELETE("/:id", jobCtrl.Delete)
	jobs.POST("/:id/start", jobCtrl.Start)
	jobs.POST("/:id/stop", jobCtrl.Stop)
	jobs.POST("/:id/schedule", jobCtrl.Schedule)
	jobs.DELETE("/:id/schedule", jobCtrl.CancelSchedule)
	jobs.PUT("/:id/command", jobCtrl.SetCommand)
	jobs.POST("/:id/shutdown", jobCtrl.ToggleShutdown)

	// Server-sent event stream of job updates
	e.GET("/api/events", eventsCtrl.Stream)

	e.GET("/metrics", echo.WrapHandler(app.Metrics.Handler()))
}
