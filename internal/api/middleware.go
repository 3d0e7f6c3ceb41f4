package api

import (
	"regexp"

	"github.com/labstack/echo/v4"
)

// Header names used by the protocol.
const (
	HeaderTusResumable         = "Tus-Resumable"
	HeaderTusVersion           = "Tus-Version"
	HeaderTusExtension         = "Tus-Extension"
	HeaderTusMaxSize           = "Tus-Max-Size"
	HeaderTusChecksumAlgorithm = "Tus-Checksum-Algorithm"
	HeaderUploadLength         = "Upload-Length"
	HeaderUploadOffset         = "Upload-Offset"
	HeaderUploadMetadata       = "Upload-Metadata"
	HeaderUploadChecksum       = "Upload-Checksum"
	HeaderUploadExpires        = "Upload-Expires"
)

const (
	corsExposeHeaders = "Upload-Offset, Location, Upload-Length, Tus-Version, Tus-Resumable, Tus-Max-Size, Tus-Extension, Upload-Metadata, Upload-Expires"
	corsAllowMethods  = "POST, GET, HEAD, PATCH, DELETE, OPTIONS"
	corsAllowHeaders  = "Origin, X-Requested-With, Content-Type, Upload-Length, Upload-Offset, Tus-Resumable, Upload-Metadata, Upload-Checksum, Upload-Defer-Length, Upload-Concat"
	corsMaxAge        = "86400"
)

var uploadIDPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// TusHeaders sets Tus-Resumable and the permissive CORS headers before
// anything else runs, so error responses carry them too.
func TusHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(HeaderTusResumable, TusVersion)
			h.Set(echo.HeaderAccessControlAllowOrigin, "*")
			h.Set(echo.HeaderAccessControlExposeHeaders, corsExposeHeaders)
			return next(c)
		}
	}
}

// ValidUploadID rejects ids that cannot have been issued as a routing-level 404.
func ValidUploadID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !uploadIDPattern.MatchString(c.Param("id")) {
				return echo.ErrNotFound
			}
			return next(c)
		}
	}
}
