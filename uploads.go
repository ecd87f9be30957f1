package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/importer"
	"github.com/mmdatafocus/routesync_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const maxUploadSizeBytes int64 = 50 * 1024 * 1024

var errFileRequired = errors.New("No file uploaded")

// spooledUpload is a multipart file copied to UploadDir. Remove deletes it.
type spooledUpload struct {
	Name string
	Path string
}

func (u spooledUpload) Remove() {
	if u.Path != "" {
		_ = os.Remove(u.Path)
	}
}

// spoolUpload saves the "file" form field under uploadDir. The size limit and the
// extension allow-list are checked before anything is written.
func spoolUpload(c *gin.Context, uploadDir string) (spooledUpload, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSizeBytes+1<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return spooledUpload{}, &utils.ParseError{Op: "upload", Err: errors.New("file size exceeds 50MB limit")}
		}
		return spooledUpload{}, &utils.ParseError{Op: "upload", Err: errFileRequired}
	}
	if fh.Size > maxUploadSizeBytes {
		return spooledUpload{}, &utils.ParseError{Op: "upload", Err: errors.New("file size exceeds 50MB limit")}
	}
	name := filepath.Base(fh.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if !importer.AllowedExtensions[ext] {
		return spooledUpload{}, &utils.ParseError{Op: ext, Err: utils.ErrUnsupportedFormat}
	}

	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return spooledUpload{}, fmt.Errorf("create upload dir: %w", err)
	}
	dst := filepath.Join(uploadDir, uuid.NewString()+ext)
	if err := c.SaveUploadedFile(fh, dst); err != nil {
		return spooledUpload{}, fmt.Errorf("save upload: %w", err)
	}
	return spooledUpload{Name: name, Path: dst}, nil
}

// withUpload spools the request file, rejects formats that cannot be parsed and
// hands the path to parse. The spooled copy is removed afterwards.
func (app *application) withUpload(c *gin.Context, op string, parse func(ctx context.Context, upload spooledUpload) error) {
	upload, err := spoolUpload(c, app.uploadDir)
	if err != nil {
		respondError(c, err)
		return
	}
	defer upload.Remove()

	ctx, span := tracer.Start(c.Request.Context(), op)
	defer span.End()
	span.SetAttributes(attribute.String("file_name", upload.Name))

	if err := importer.CheckSupported(upload.Name); err != nil {
		app.logger.WithFields(logrus.Fields{
			"field":     op,
			"file_name": upload.Name,
		}).Warn("upload rejected: " + err.Error())
		respondError(c, err)
		return
	}
	if err := parse(ctx, upload); err != nil {
		span.RecordError(err)
		config.LogError(app.logger, "main", op, "handle upload", upload.Name, err)
		respondError(c, err)
	}
}
