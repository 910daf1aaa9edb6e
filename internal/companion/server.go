// Package companion serves a signing collaborator over HTTP so that clients
// without credentials can upload directly to the object store.
package companion

import (
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/validation"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// Server exposes a Signer as JSON routes.
type Server struct {
	signer uploadtypes.Signer
	logger *slog.Logger
}

// New creates a Server. A nil logger discards output.
func New(signer uploadtypes.Signer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{signer: signer, logger: logger}
}

// Handler returns a gin engine with the routes, request logging and panic
// recovery installed.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(s.logger))
	s.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers the signing routes on the provided router.
func (s *Server) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/s3")
	{
		api.POST("/params", s.GetUploadParameters)
		api.POST("/multipart", s.CreateMultipartUpload)
		api.GET("/multipart/:uploadId", s.ListParts)
		api.GET("/multipart/:uploadId/:partNumber", s.SignPart)
		api.POST("/multipart/:uploadId/complete", s.CompleteMultipartUpload)
		api.DELETE("/multipart/:uploadId", s.AbortMultipartUpload)
	}
}

// GetUploadParameters signs a direct upload.
func (s *Server) GetUploadParameters(c *gin.Context) {
	info, ok := s.fileInfo(c, "getUploadParameters")
	if !ok {
		return
	}
	params, err := s.signer.GetUploadParameters(c.Request.Context(), info.File())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, params)
}

// CreateMultipartUpload opens a multipart session.
func (s *Server) CreateMultipartUpload(c *gin.Context) {
	info, ok := s.fileInfo(c, "createMultipartUpload")
	if !ok {
		return
	}
	key, err := s.signer.CreateMultipartUpload(c.Request.Context(), info.File())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("multipart upload created", "upload_id", key.UploadID, "key", key.Key)
	c.JSON(http.StatusOK, key)
}

// ListParts lists the stored parts of a session.
func (s *Server) ListParts(c *gin.Context) {
	session, ok := s.session(c, "listParts")
	if !ok {
		return
	}
	parts, err := s.signer.ListParts(c.Request.Context(), nil, session)
	if err != nil {
		s.fail(c, err)
		return
	}
	if parts == nil {
		parts = []uploadtypes.Part{}
	}
	c.JSON(http.StatusOK, parts)
}

// SignPart signs one part.
func (s *Server) SignPart(c *gin.Context) {
	session, ok := s.session(c, "signPart")
	if !ok {
		return
	}
	number, err := strconv.ParseInt(c.Param("partNumber"), 10, 32)
	if err != nil || number < 1 {
		s.fail(c, errors.Invalid("signPart", "invalid part number %q", c.Param("partNumber")))
		return
	}
	var size int64
	if raw := c.Query("size"); raw != "" {
		if size, err = strconv.ParseInt(raw, 10, 64); err != nil || size < 0 {
			s.fail(c, errors.Invalid("signPart", "invalid size %q", raw))
			return
		}
	}

	part, err := s.signer.SignPart(c.Request.Context(), nil, uploadtypes.SignPartRequest{
		SessionKey: session,
		PartNumber: int32(number),
		Size:       size,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, part)
}

// CompleteMultipartUpload assembles the object.
func (s *Server) CompleteMultipartUpload(c *gin.Context) {
	session, ok := s.session(c, "completeMultipartUpload")
	if !ok {
		return
	}
	var req uploadtypes.CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Invalid("completeMultipartUpload", "invalid request: %v", err))
		return
	}
	res, err := s.signer.CompleteMultipartUpload(c.Request.Context(), nil, session, req.Parts)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("multipart upload completed", "upload_id", session.UploadID, "parts", len(req.Parts))
	c.JSON(http.StatusOK, res)
}

// AbortMultipartUpload releases a session.
func (s *Server) AbortMultipartUpload(c *gin.Context) {
	session, ok := s.session(c, "abortMultipartUpload")
	if !ok {
		return
	}
	if err := s.signer.AbortMultipartUpload(c.Request.Context(), nil, session); err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("multipart upload aborted", "upload_id", session.UploadID)
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) fileInfo(c *gin.Context, op string) (uploadtypes.FileInfo, bool) {
	var info uploadtypes.FileInfo
	if err := c.ShouldBindJSON(&info); err != nil {
		s.fail(c, errors.Invalid(op, "invalid request: %v", err))
		return info, false
	}
	if err := validation.ContentType(info.Type); err != nil {
		s.fail(c, err)
		return info, false
	}
	if err := validation.Metadata(info.Metadata); err != nil {
		s.fail(c, err)
		return info, false
	}
	return info, true
}

func (s *Server) session(c *gin.Context, op string) (uploadtypes.SessionKey, bool) {
	key := uploadtypes.SessionKey{UploadID: c.Param("uploadId"), Key: c.Query("key")}
	if key.Key == "" {
		s.fail(c, errors.Invalid(op, "key query parameter is required"))
		return key, false
	}
	if err := validation.ObjectKey(key.Key); err != nil {
		s.fail(c, err)
		return key, false
	}
	return key, true
}

// fail writes err as a JSON error response.
func (s *Server) fail(c *gin.Context, err error) {
	status := StatusOf(err)
	msg := err.Error()
	var e *errors.Error
	if stderrors.As(err, &e) && e.Message != "" {
		msg = e.Message
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("signing failed", "path", c.FullPath(), "status", status, "error", err)
	} else {
		s.logger.Warn("signing rejected", "path", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, uploadtypes.ErrorResponse{Error: msg})
}

// StatusOf maps an error to the HTTP status reported to the client. Rejections
// by the object store keep their 4xx status.
func StatusOf(err error) int {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case errors.KindInvalidInput:
		return http.StatusBadRequest
	case errors.KindServer:
		if e.Status >= 400 && e.Status < 500 {
			return e.Status
		}
		return http.StatusBadGateway
	case errors.KindTimeout, errors.KindNetwork:
		return http.StatusGatewayTimeout
	case errors.KindAborted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RequestLogger is a gin middleware that logs requests with slog.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "http request completed",
			"status", status,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"bytes", c.Writer.Size(),
		)
	}
}
