// Package api exposes flows, versions and respondent sessions over HTTP.
package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/kataras/golog"
	"github.com/meikuraledutech/flow"
)

// Server holds the HTTP handlers.
type Server struct {
	publisher *flow.Publisher
	runner    *flow.Runner
	log       *golog.Logger
}

// New creates a Server. A nil logger uses golog.Default.
func New(publisher *flow.Publisher, runner *flow.Runner, log *golog.Logger) *Server {
	if log == nil {
		log = golog.Default
	}
	return &Server{publisher: publisher, runner: runner, log: log}
}

// NewApp returns a fiber app with middleware installed ahead of the routes.
// Immutable is on because ids taken from the path may be kept by in-memory
// stores.
func NewApp(s *Server, middleware ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{Immutable: true})
	app.Use(recover.New())
	for _, m := range middleware {
		app.Use(m)
	}
	s.Register(app)
	return app
}

// Register mounts every route on r.
func (s *Server) Register(r fiber.Router) {
	// ── Flows ─────────────────────────────────────────────────────────
	r.Post("/flows", s.createFlow)
	r.Get("/flows/:id", s.getFlow)
	r.Put("/flows/:id/draft", s.updateDraft)
	r.Post("/flows/:id/validate", s.validateDraft)

	// ── Versions ──────────────────────────────────────────────────────
	r.Post("/flows/:id/publish", s.publish)
	r.Post("/flows/:id/activate", s.activate)
	r.Post("/flows/:id/unpublish", s.unpublish)
	r.Get("/flows/:id/versions", s.listVersions)
	r.Get("/versions/:id", s.getVersion)

	// ── Sessions ──────────────────────────────────────────────────────
	r.Post("/flows/:id/sessions", s.startSession)
	r.Get("/flows/:id/analytics", s.analytics)
	r.Get("/sessions/:id", s.getSession)
	r.Post("/sessions/:id/answers", s.submitAnswer)
	r.Post("/sessions/:id/complete", s.complete)
	r.Post("/sessions/:id/redirect", s.redirect)
}

func (s *Server) createFlow(c fiber.Ctx) error {
	var req createFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, err)
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, err)
	}
	f, err := s.publisher.CreateFlow(c.Context(), req.Name, req.Graph)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(f)
}

func (s *Server) getFlow(c fiber.Ctx) error {
	f, err := s.publisher.Flow(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(f)
}

func (s *Server) updateDraft(c fiber.Ctx) error {
	var g flow.Graph
	if err := c.Bind().JSON(&g); err != nil {
		return badRequest(c, err)
	}
	res, err := s.publisher.UpdateDraft(c.Context(), c.Params("id"), g)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(res)
}

func (s *Server) validateDraft(c fiber.Ctx) error {
	res, err := s.publisher.ValidateDraft(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(res)
}

func (s *Server) publish(c fiber.Ctx) error {
	var req publishRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, err)
		}
		if err := validate.Struct(req); err != nil {
			return badRequest(c, err)
		}
	}
	v, err := s.publisher.Publish(c.Context(), c.Params("id"), req.CreatedBy, req.Changelog)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(v)
}

func (s *Server) activate(c fiber.Ctx) error {
	var req activateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, err)
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, err)
	}
	f, err := s.publisher.Activate(c.Context(), c.Params("id"), req.VersionID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(f)
}

func (s *Server) unpublish(c fiber.Ctx) error {
	f, err := s.publisher.Unpublish(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(f)
}

func (s *Server) listVersions(c fiber.Ctx) error {
	versions, err := s.publisher.Versions(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(versions)
}

func (s *Server) getVersion(c fiber.Ctx) error {
	v, err := s.publisher.Version(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(v)
}

func (s *Server) startSession(c fiber.Ctx) error {
	sess, err := s.runner.Start(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sess)
}

func (s *Server) analytics(c fiber.Ctx) error {
	if _, err := s.publisher.Flow(c.Context(), c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	report, err := s.runner.Analyze(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(report)
}

func (s *Server) getSession(c fiber.Ctx) error {
	sess, err := s.runner.Session(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(sess)
}

func (s *Server) submitAnswer(c fiber.Ctx) error {
	var req answerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, err)
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, err)
	}
	sess, err := s.runner.SubmitAnswer(c.Context(), c.Params("id"), req.NodeID, req.Answer)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(sess)
}

func (s *Server) complete(c fiber.Ctx) error {
	sess, err := s.runner.Complete(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(sess)
}

func (s *Server) redirect(c fiber.Ctx) error {
	sess, err := s.runner.Redirect(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sess)
}
