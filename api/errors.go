package api

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/flow"
)

// status maps engine errors to HTTP status codes.
func status(err error) int {
	switch {
	case errors.Is(err, flow.ErrFlowNotFound),
		errors.Is(err, flow.ErrVersionNotFound),
		errors.Is(err, flow.ErrSessionNotFound),
		errors.Is(err, flow.ErrNodeNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, flow.ErrStaleStep),
		errors.Is(err, flow.ErrSessionAlreadyComplete),
		errors.Is(err, flow.ErrConflict),
		errors.Is(err, flow.ErrNoActiveVersion),
		errors.Is(err, flow.ErrVersionMismatch),
		errors.Is(err, flow.ErrNotRedirectable):
		return fiber.StatusConflict
	case errors.Is(err, flow.ErrInvalidGraph), flow.IsTraversalError(err):
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusInternalServerError
}

// fail writes err as a JSON error body.
func (s *Server) fail(c fiber.Ctx, err error) error {
	code := status(err)
	body := fiber.Map{"error": err.Error()}

	var verr *flow.ValidationError
	if errors.As(err, &verr) {
		body["error"] = flow.ErrInvalidGraph.Error()
		body["issues"] = verr.Issues
	}
	if code == fiber.StatusInternalServerError {
		s.log.Errorf("%s %s: %v", c.Method(), c.Path(), err)
		body["error"] = "internal error"
	}
	return c.Status(code).JSON(body)
}

// badRequest reports an unreadable or invalid request body.
func badRequest(c fiber.Ctx, err error) error {
	body := fiber.Map{"error": "invalid body"}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace()+": "+fe.Tag())
		}
		body["fields"] = fields
	}
	return c.Status(fiber.StatusBadRequest).JSON(body)
}
