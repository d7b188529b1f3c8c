package http

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"publish-pipeline/domain/dto"
	"publish-pipeline/domain/model"
	"publish-pipeline/infrastructure/logger"
	"publish-pipeline/usecase"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// maxMultipartMemory keeps small parts in memory; larger ones spill to temp files.
const maxMultipartMemory = 32 << 20

type IMediaHandler interface {
	Upload(c *gin.Context)
}

type mediaHandler struct {
	preflight usecase.IMediaPreflight
}

func NewMediaHandler(preflight usecase.IMediaPreflight) IMediaHandler {
	return &mediaHandler{preflight: preflight}
}

type partSource struct{ fh *multipart.FileHeader }

func (p partSource) Open() (io.ReadCloser, error) { return p.fh.Open() }

// Upload runs every "files" part of a multipart form through preflight. Rejected files
// are reported next to the saved ones; the request fails only when the form is unreadable.
func (h *mediaHandler) Upload(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil {
		c.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "invalid multipart form: " + err.Error()})
		return
	}
	defer func() {
		if c.Request.MultipartForm != nil {
			_ = c.Request.MultipartForm.RemoveAll()
		}
	}()

	headers := c.Request.MultipartForm.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "no files uploaded"})
		return
	}

	files := make([]*model.PendingFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, &model.PendingFile{
			ID:     uuid.NewString(),
			Name:   fh.Filename,
			Type:   declaredType(fh),
			Size:   fh.Size,
			Source: partSource{fh: fh},
		})
	}

	lg := logger.GetLogger().WithField("request", c.GetHeader("X-Request-ID"))
	result := h.preflight.Run(c.Request.Context(), files, usecase.RunObservers{
		OnLocked: func(locked bool) { lg.WithField("locked", locked).Debug("media batch lock") },
	})
	lg.WithField("files", len(files)).WithField("saved", len(result.Saved)).Info("media upload processed")
	c.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "Success", Data: result})
}

// declaredType drops the generic type browsers send for unknown files so the content gets sniffed.
func declaredType(fh *multipart.FileHeader) string {
	t := strings.TrimSpace(strings.SplitN(fh.Header.Get("Content-Type"), ";", 2)[0])
	if t == "application/octet-stream" {
		return ""
	}
	return t
}
