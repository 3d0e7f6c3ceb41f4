// handlers_tus.go - TUS 1.0.0 protocol handlers
package api

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/tus-upload-server/backend/internal/models"
	"github.com/tus-upload-server/backend/internal/upload"
)

// TusVersion is the only protocol version accepted.
const TusVersion = "1.0.0"

// OffsetContentType is the media type required on PATCH bodies.
const OffsetContentType = "application/offset+octet-stream"

// SupportedExtensions is advertised in Tus-Extension.
var SupportedExtensions = []string{"creation", "expiration", "checksum", "termination"}

// DefaultMaxUploadSize is 1 GiB.
const DefaultMaxUploadSize int64 = 1 << 30

// Options configures the protocol handler.
type Options struct {
	BasePath      string
	MaxUploadSize int64
	Logger        logrus.FieldLogger
}

// TusHandlerImpl implements the TusHandler interface
type TusHandlerImpl struct {
	engine   Engine
	basePath string
	maxSize  int64
	log      logrus.FieldLogger
}

// NewTusHandler creates a new protocol handler instance
func NewTusHandler(engine Engine, opts Options) TusHandler {
	if opts.BasePath == "" {
		opts.BasePath = "/files"
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &TusHandlerImpl{
		engine:   engine,
		basePath: strings.TrimSuffix(opts.BasePath, "/"),
		maxSize:  opts.MaxUploadSize,
		log:      opts.Logger.WithField("component", "tus"),
	}
}

// HandleOptions advertises the server's protocol capabilities
func (h *TusHandlerImpl) HandleOptions(c echo.Context) error {
	hdr := c.Response().Header()
	hdr.Set(HeaderTusVersion, TusVersion)
	hdr.Set(HeaderTusExtension, strings.Join(SupportedExtensions, ","))
	hdr.Set(HeaderTusMaxSize, strconv.FormatInt(h.maxSize, 10))
	hdr.Set(HeaderTusChecksumAlgorithm, strings.Join(upload.SupportedChecksumAlgorithms, ","))
	hdr.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
	hdr.Set(echo.HeaderAccessControlAllowHeaders, corsAllowHeaders)
	hdr.Set(echo.HeaderAccessControlMaxAge, corsMaxAge)
	return c.NoContent(http.StatusNoContent)
}

// HandleCreate creates an upload session (creation extension)
func (h *TusHandlerImpl) HandleCreate(c echo.Context) error {
	if err := checkVersion(c); err != nil {
		return err
	}

	req := c.Request()
	size, ok := parseNonNegative(req.Header.Get(HeaderUploadLength))
	if !ok {
		return NewInvalidLengthError()
	}
	if size > h.maxSize {
		return NewSizeExceededError()
	}

	var metadata models.Metadata
	if values := req.Header.Values(HeaderUploadMetadata); len(values) > 0 {
		metadata = ParseMetadata(strings.Join(values, ","))
	}

	u, err := h.engine.CreateSession(req.Context(), metadata["filename"], metadata["filetype"], size, metadata)
	if err != nil {
		return err
	}

	hdr := c.Response().Header()
	hdr.Set(echo.HeaderLocation, h.location(c, u.UploadID))
	hdr.Set(HeaderUploadOffset, "0")
	setExpires(c, u)
	return c.NoContent(http.StatusCreated)
}

// HandleHead reports the current offset of an upload
func (h *TusHandlerImpl) HandleHead(c echo.Context) error {
	if err := checkVersion(c); err != nil {
		return err
	}

	u, err := h.engine.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}

	hdr := c.Response().Header()
	hdr.Set(HeaderUploadOffset, strconv.FormatInt(u.Offset, 10))
	hdr.Set(HeaderUploadLength, strconv.FormatInt(u.Size, 10))
	if u.Metadata != nil {
		hdr.Set(HeaderUploadMetadata, EncodeMetadata(u.Metadata))
	}
	hdr.Set("Cache-Control", "no-store")
	setExpires(c, u)
	return c.NoContent(http.StatusOK)
}

// HandlePatch appends a chunk at the declared offset
func (h *TusHandlerImpl) HandlePatch(c echo.Context) error {
	if err := checkVersion(c); err != nil {
		return err
	}

	req := c.Request()
	u, err := h.engine.GetSession(req.Context(), c.Param("id"))
	if err != nil {
		return err
	}

	offset, ok := parseNonNegative(req.Header.Get(HeaderUploadOffset))
	if !ok {
		return NewInvalidOffsetError()
	}
	if req.Header.Get(echo.HeaderContentType) != OffsetContentType {
		return NewInvalidContentTypeError()
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, h.maxSize+1))
	if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
		// body limit middleware tripped on a body without Content-Length
		return NewSizeExceededError()
	}
	if err != nil {
		return NewBadRequestError("Failed to read request body")
	}
	if int64(len(data)) > h.maxSize {
		return NewSizeExceededError()
	}

	if header := req.Header.Get(HeaderUploadChecksum); header != "" {
		if !verifyChecksum(header, data) {
			return NewChecksumMismatchError()
		}
	}

	u, err = h.engine.WriteChunk(req.Context(), u, data, offset)
	if err != nil {
		return err
	}

	c.Response().Header().Set(HeaderUploadOffset, strconv.FormatInt(u.Offset, 10))
	setExpires(c, u)
	return c.NoContent(http.StatusNoContent)
}

// HandleDelete terminates an upload (termination extension)
func (h *TusHandlerImpl) HandleDelete(c echo.Context) error {
	if err := checkVersion(c); err != nil {
		return err
	}

	ctx := c.Request().Context()
	u, err := h.engine.GetSession(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if err := h.engine.DeleteSession(ctx, u); err != nil {
		return err
	}

	h.log.WithField("upload_id", u.UploadID).Info("upload terminated by client")
	return c.NoContent(http.StatusNoContent)
}

// HandleGet returns the content of a completed upload
func (h *TusHandlerImpl) HandleGet(c echo.Context) error {
	if err := checkVersion(c); err != nil {
		return err
	}

	u, err := h.engine.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	data, err := h.engine.ReadCompletedContent(u)
	if err != nil {
		return err
	}

	hdr := c.Response().Header()
	hdr.Set(HeaderUploadLength, strconv.FormatInt(u.Size, 10))
	if disposition := mime.FormatMediaType("attachment", map[string]string{"filename": u.Filename}); disposition != "" {
		hdr.Set(echo.HeaderContentDisposition, disposition)
	}
	return c.Blob(http.StatusOK, u.MimeType, data)
}

func (h *TusHandlerImpl) location(c echo.Context, uploadID string) string {
	return fmt.Sprintf("%s://%s%s/%s", c.Scheme(), c.Request().Host, h.basePath, uploadID)
}

func checkVersion(c echo.Context) error {
	if c.Request().Header.Get(HeaderTusResumable) != TusVersion {
		return NewVersionMismatchError()
	}
	return nil
}

func setExpires(c echo.Context, u *models.Upload) {
	c.Response().Header().Set(HeaderUploadExpires, u.ExpiredTime.UTC().Format(http.TimeFormat))
}

// parseNonNegative accepts only base-10 digit strings.
func parseNonNegative(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// verifyChecksum checks an Upload-Checksum header ("algorithm base64digest")
// against data. Malformed headers and unknown algorithms fail verification.
func verifyChecksum(header string, data []byte) bool {
	algorithm, encoded, ok := strings.Cut(header, " ")
	if !ok {
		return false
	}
	sum, ok := upload.Digest(strings.ToLower(algorithm), data)
	if !ok {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	return bytes.Equal(sum, expected)
}
