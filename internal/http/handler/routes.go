package handler

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"cvpipeline/internal/service"
	"cvpipeline/internal/stats"
)

// userIDHeader carries the requesting user's identity. There is no auth layer
// in front of this service; the gateway is expected to set the header.
const userIDHeader = "X-User-ID"

// OverviewReader is the slice of the stats reader the handlers need.
type OverviewReader interface {
	Overview(ctx context.Context, ownerID string) (*stats.Overview, error)
}

// HealthCheck reports readiness by pinging the database.
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe is a simple liveness probe.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// UploadCV accepts a multipart upload (field name: file) and enqueues it for
// analysis. The response returns immediately with the record in the uploaded
// state; processing happens in the background.
func UploadCV(cvSvc service.CVService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ownerID := c.Get(userIDHeader)
		if ownerID == "" {
			return writeError(c, fiber.StatusBadRequest, "USER_REQUIRED", "X-User-ID header is required")
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}

		cv, err := cvSvc.Upload(c.UserContext(), f, ownerID, fh.Filename, ct, fh.Size)
		if err != nil {
			if errors.Is(err, service.ErrEmptyFile) {
				return writeError(c, fiber.StatusBadRequest, "EMPTY_FILE", "uploaded file is empty")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.Status(fiber.StatusCreated).JSON(cv)
	}
}

// ListCVs returns the caller's CVs with limit and offset pagination.
func ListCVs(cvSvc service.CVService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ownerID := c.Get(userIDHeader)
		if ownerID == "" {
			return writeError(c, fiber.StatusBadRequest, "USER_REQUIRED", "X-User-ID header is required")
		}

		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := cvSvc.List(c.UserContext(), ownerID, limit, offset)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(res)
	}
}

// GetCV returns a single CV with its analysis when the run has completed.
func GetCV(cvSvc service.CVService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		cv, err := cvSvc.Get(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "cv not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(cv)
	}
}

// GetCVLogs returns the processing audit trail of a CV, oldest first.
func GetCVLogs(cvSvc service.CVService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		logs, err := cvSvc.Logs(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "cv not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(fiber.Map{"data": logs})
	}
}

// ReanalyzeCV re-queues a completed CV for a fresh analysis run.
func ReanalyzeCV(cvSvc service.CVService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		if err := cvSvc.Reanalyze(c.UserContext(), id); err != nil {
			switch {
			case errors.Is(err, service.ErrNotFound):
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "cv not found")
			case errors.Is(err, service.ErrNotCompleted):
				return writeError(c, fiber.StatusConflict, "NOT_COMPLETED", "cv is not in a completed state")
			default:
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
	}
}

// StatsOverview returns aggregate statistics over the caller's CVs.
func StatsOverview(reader OverviewReader) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ownerID := c.Get(userIDHeader)
		if ownerID == "" {
			return writeError(c, fiber.StatusBadRequest, "USER_REQUIRED", "X-User-ID header is required")
		}
		ov, err := reader.Overview(c.UserContext(), ownerID)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(ov)
	}
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, db *sql.DB, cvSvc service.CVService, reader OverviewReader) {
	// Serve OpenAPI spec and Swagger UI
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.SendFile("openapi.yaml")
	})
	app.Get("/docs", func(c *fiber.Ctx) error {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
		return c.Type("html").SendString(html)
	})

	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	app.Post("/cvs", UploadCV(cvSvc))
	app.Get("/cvs", ListCVs(cvSvc))
	app.Get("/cvs/:id", GetCV(cvSvc))
	app.Get("/cvs/:id/logs", GetCVLogs(cvSvc))
	app.Post("/cvs/:id/reanalyze", ReanalyzeCV(cvSvc))

	app.Get("/stats/overview", StatsOverview(reader))
}
