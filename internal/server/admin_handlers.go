package server

import (
	"log/slog"

	"dhoka/internal/models"
	"dhoka/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// moderate runs a status change and logs who made it.
func (s *Server) moderate(c *fiber.Ctx, action string, op func(id string) error) error {
	id := c.Params("id")
	if err := op(id); err != nil {
		return respond(c, err)
	}
	userID, _ := c.Locals("userID").(string)
	observability.GlobalLogger.InfoContext(c.UserContext(), "post moderated",
		slog.String("post_id", id),
		slog.String("action", action),
		slog.String("moderator", userID),
	)
	return c.JSON(fiber.Map{"id": id, "action": action})
}

// ApprovePost handles PUT /api/posts/:id/approve
func (s *Server) ApprovePost(c *fiber.Ctx) error {
	return s.moderate(c, "approve", func(id string) error {
		return s.posts.Approve(c.UserContext(), id)
	})
}

// RejectPost handles PUT /api/posts/:id/reject
func (s *Server) RejectPost(c *fiber.Ctx) error {
	return s.moderate(c, "reject", func(id string) error {
		return s.posts.Reject(c.UserContext(), id)
	})
}

// SettlePost handles PUT /api/posts/:id/settled
func (s *Server) SettlePost(c *fiber.Ctx) error {
	return s.moderate(c, "settle", func(id string) error {
		return s.posts.Settle(c.UserContext(), id)
	})
}

// DeletePost handles DELETE /api/post/:id
func (s *Server) DeletePost(c *fiber.Ctx) error {
	return s.moderate(c, "delete", func(id string) error {
		return s.posts.Delete(c.UserContext(), id)
	})
}

// ReIndexPost handles PUT /api/posts/:id/re-index
func (s *Server) ReIndexPost(c *fiber.Ctx) error {
	id := c.Params("id")
	written, err := s.posts.EnsureIndexed(c.UserContext(), id)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(fiber.Map{"id": id, "reindexed": written})
}

// ListPosts handles GET /api/admin/posts?status=&limit=&token=
func (s *Server) ListPosts(c *fiber.Ctx) error {
	page, err := s.posts.ListAdmin(c.UserContext(),
		models.Status(c.Query("status")), c.QueryInt("limit", 0), c.Query("token"))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(page)
}

// GetPostAdmin handles GET /api/admin/posts/:id
func (s *Server) GetPostAdmin(c *fiber.Ctx) error {
	post, err := s.posts.GetAdmin(c.UserContext(), c.Params("id"))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(post)
}

// SetCounter handles PUT /api/admin/counters/:label
func (s *Server) SetCounter(c *fiber.Ctx) error {
	var req struct {
		Count *int64 `json:"count"`
	}
	if err := c.BodyParser(&req); err != nil || req.Count == nil {
		return badRequest(c, "count is required")
	}
	label := models.CounterLabel(c.Params("label"))
	if err := s.posts.SetCounter(c.UserContext(), label, *req.Count); err != nil {
		return respond(c, err)
	}
	return c.JSON(fiber.Map{"label": label, "count": *req.Count})
}

// RunSweep handles POST /api/admin/sweep
func (s *Server) RunSweep(c *fiber.Ctx) error {
	if s.sweeper == nil {
		return respond(c, models.NewServiceUnavailableError("Sweeper is not configured", nil))
	}
	report, err := s.sweeper.RunOnce(c.UserContext())
	if err != nil {
		return respond(c, models.NewInternalError(err))
	}
	return c.JSON(report)
}
