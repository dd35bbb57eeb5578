package upload

import (
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/intake-api/internal/service/ingest"
	"github.com/jwalitptl/intake-api/pkg/errors"
	"github.com/jwalitptl/intake-api/pkg/httputil"
)

var allowedExtensions = map[string]bool{
	".csv": true,
	".tsv": true,
	".txt": true,
}

var allowedContentTypes = map[string]bool{
	"text/csv":        true,
	"application/csv": true,
	"text/plain":      true,
}

type Handler struct {
	service ingest.IngestServicer
}

func NewHandler(service ingest.IngestServicer) *Handler {
	return &Handler{service: service}
}

// Upload accepts a tabular artifact as a multipart file part named "file"
// and ingests it row by row. The response always carries the full report,
// rows that failed are listed alongside the inserted count.
func (h *Handler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("file part is required", err))
		return
	}

	ext := strings.ToLower(path.Ext(fileHeader.Filename))
	ct := fileHeader.Header.Get("Content-Type")
	if !allowedExtensions[ext] && !allowedContentTypes[ct] {
		httputil.RespondWithError(c, errors.BadRequest("unsupported artifact type, expected a CSV file", nil))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("failed to open uploaded file", err))
		return
	}
	defer f.Close()

	report, err := h.service.IngestArtifact(c.Request.Context(), fileHeader.Filename, f)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithCreated(c, report)
}

// RemoveBatch deletes every appointment imported from the given file.
func (h *Handler) RemoveBatch(c *gin.Context) {
	fileID := c.Param("fileId")
	if fileID == "" {
		httputil.RespondWithError(c, errors.BadRequest("file id is required", nil))
		return
	}

	removed, err := h.service.RemoveBatch(c.Request.Context(), fileID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, gin.H{"fileId": fileID, "removed": removed})
}
