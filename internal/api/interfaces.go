// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/tus-upload-server/backend/internal/models"
)

// TusHandler serves the TUS 1.0.0 protocol resources
type TusHandler interface {
	HandleOptions(c echo.Context) error
	HandleCreate(c echo.Context) error
	HandleHead(c echo.Context) error
	HandlePatch(c echo.Context) error
	HandleDelete(c echo.Context) error
	HandleGet(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// Engine is the subset of the upload engine the protocol layer calls.
type Engine interface {
	CreateSession(ctx context.Context, filename, mimeType string, size int64, metadata models.Metadata) (*models.Upload, error)
	GetSession(ctx context.Context, uploadID string) (*models.Upload, error)
	WriteChunk(ctx context.Context, u *models.Upload, data []byte, offset int64) (*models.Upload, error)
	DeleteSession(ctx context.Context, u *models.Upload) error
	ReadCompletedContent(u *models.Upload) ([]byte, error)
}
