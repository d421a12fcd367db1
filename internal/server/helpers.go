package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"

	"dhoka/internal/media"
	"dhoka/internal/models"
	"dhoka/internal/observability"

	"github.com/gofiber/fiber/v2"
)

const (
	maxImagesPerRequest = 10
	imagesFormField     = "images"
)

// Pagination holds parsed page/page_size query parameters.
type Pagination struct {
	Page     int
	PageSize int
}

// parsePagination reads page and page_size. Out of range values are left for
// the service to clamp.
func parsePagination(c *fiber.Ctx) Pagination {
	return Pagination{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 0),
	}
}

// respond writes err using the status of its kind. Internal failures are
// logged here because their details never reach the client.
func respond(c *fiber.Ctx, err error) error {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		appErr = models.NewInternalError(err)
	}
	if appErr.Kind == models.KindInternal {
		observability.GlobalLogger.ErrorContext(c.UserContext(), "request failed",
			slog.String("path", c.Path()), slog.String("error", err.Error()))
	}
	return models.RespondWithError(c, 0, appErr)
}

func badRequest(c *fiber.Ctx, message string) error {
	return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError(message))
}

// readUploads opens every file in the images field. The caller must invoke the
// returned closer once the uploads have been consumed.
func (s *Server) readUploads(c *fiber.Ctx) ([]media.Upload, func(), error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, func() {}, models.NewValidationError("Expected a multipart form with an images field")
	}
	headers := form.File[imagesFormField]
	if len(headers) == 0 {
		return nil, func() {}, models.NewValidationError("At least one image is required")
	}
	if len(headers) > maxImagesPerRequest {
		return nil, func() {}, models.NewValidationError(
			fmt.Sprintf("At most %d images can be uploaded at once", maxImagesPerRequest))
	}

	limit := s.config.ImageMaxUploadSize * 1024 * 1024
	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	uploads := make([]media.Upload, 0, len(headers))
	for _, fh := range headers {
		if limit > 0 && fh.Size > limit {
			closeAll()
			return nil, func() {}, models.NewValidationError(
				fmt.Sprintf("%s exceeds the %d MB upload limit", fh.Filename, s.config.ImageMaxUploadSize))
		}
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, models.NewValidationError("Could not read " + fh.Filename)
		}
		files = append(files, f)
		uploads = append(uploads, media.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get(fiber.HeaderContentType),
			Size:        fh.Size,
			Body:        io.Reader(f),
		})
	}
	return uploads, closeAll, nil
}
