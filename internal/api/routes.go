// routes.go - Route registration helpers
package api

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Engine  Engine
	Options Options
	Version string
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Tus    TusHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health: NewHealthHandler(deps.Version),
		Tus:    NewTusHandler(deps.Engine, deps.Options),
	}
}

// RegisterRoutes registers the health check and the TUS resources under basePath
func RegisterRoutes(e *echo.Echo, handlers *Handlers, basePath string) {
	if basePath == "" {
		basePath = "/files"
	}

	// Health check
	e.GET("/health", handlers.Health.HandleHealth)

	validID := ValidUploadID()
	files := e.Group(basePath)
	files.OPTIONS("", handlers.Tus.HandleOptions)
	files.POST("", handlers.Tus.HandleCreate)
	files.OPTIONS("/:id", handlers.Tus.HandleOptions, validID)
	files.HEAD("/:id", handlers.Tus.HandleHead, validID)
	files.PATCH("/:id", handlers.Tus.HandlePatch, validID)
	files.DELETE("/:id", handlers.Tus.HandleDelete, validID)
	files.GET("/:id", handlers.Tus.HandleGet, validID)
}

// MiddlewareConfig controls the common middleware stack
type MiddlewareConfig struct {
	Logger         logrus.FieldLogger
	RequestLogging bool
	MaxBodySize    int64
}

// SetupMiddleware configures common middleware. RegisterRoutes relies on it
// for the protocol and CORS headers.
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	e.HTTPErrorHandler = NewErrorHandler(log)
	// Pre runs before the router, so errors raised by later middleware still
	// carry the protocol headers.
	e.Pre(TusHeaders())
	e.Use(middleware.Recover())

	if cfg.RequestLogging {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod:   true,
			LogURI:      true,
			LogStatus:   true,
			LogLatency:  true,
			LogRemoteIP: true,
			LogError:    true,
			HandleError: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				entry := log.WithFields(logrus.Fields{
					"method":    v.Method,
					"uri":       v.URI,
					"status":    v.Status,
					"latency":   v.Latency.String(),
					"remote_ip": v.RemoteIP,
				})
				if v.Error != nil {
					entry = entry.WithError(v.Error)
				}
				entry.Info("request")
				return nil
			},
		}))
	}

	if cfg.MaxBodySize > 0 {
		e.Use(middleware.BodyLimit(strconv.FormatInt(cfg.MaxBodySize, 10)))
	}
}
