package server

import (
	"strings"

	"dhoka/internal/service"

	"github.com/gofiber/fiber/v2"
)

// InitPost handles POST /api/posts/init
func (s *Server) InitPost(c *fiber.Ctx) error {
	post, err := s.posts.Init(c.UserContext())
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":     post.ID,
		"status": post.Status,
	})
}

// SendOtp handles POST /api/posts/:id/send-otp
func (s *Server) SendOtp(c *fiber.Ctx) error {
	var req struct {
		PhoneNumber string `json:"phone_number"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return badRequest(c, "phone_number is required")
	}

	if err := s.posts.SendOtp(c.UserContext(), c.Params("id"), req.PhoneNumber); err != nil {
		return respond(c, err)
	}
	return c.JSON(fiber.Map{"message": "Verification code sent"})
}

type verifyRequest struct {
	OTP int `json:"otp"`
	service.VerifyInput
}

// VerifyPost handles POST /api/posts/:id/verify
func (s *Server) VerifyPost(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.OTP == 0 {
		return badRequest(c, "otp is required")
	}

	if err := s.posts.Verify(c.UserContext(), c.Params("id"), req.OTP, req.VerifyInput); err != nil {
		return respond(c, err)
	}
	return c.JSON(fiber.Map{"message": "Report submitted for review"})
}

// UploadImages handles POST /api/posts/:id/upload-images
func (s *Server) UploadImages(c *fiber.Ctx) error {
	uploads, closeAll, err := s.readUploads(c)
	defer closeAll()
	if err != nil {
		return respond(c, err)
	}

	urls, err := s.posts.UploadImages(c.UserContext(), c.Params("id"), uploads)
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"image_urls": urls})
}

// GetPost handles GET /api/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	post, err := s.posts.GetPublic(c.UserContext(), c.Params("id"))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(post)
}

// SearchPosts handles GET /api/posts/search?q=...
func (s *Server) SearchPosts(c *fiber.Ctx) error {
	page := parsePagination(c)
	results, err := s.posts.Search(c.UserContext(), c.Query("q"), page.Page, page.PageSize)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(results)
}

// Autocomplete handles GET /api/posts/autocomplete?q=...
func (s *Server) Autocomplete(c *fiber.Ctx) error {
	titles, err := s.posts.Autocomplete(c.UserContext(), c.Query("q"), c.QueryInt("max", 0))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(fiber.Map{"suggestions": titles})
}

// RecentPosts handles GET /api/posts/recent
func (s *Server) RecentPosts(c *fiber.Ctx) error {
	posts, err := s.posts.Recent(c.UserContext())
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(fiber.Map{"items": posts})
}

// GetSearchMetrics handles GET /api/metrics/search-metrics
func (s *Server) GetSearchMetrics(c *fiber.Ctx) error {
	metrics, err := s.posts.SearchMetrics(c.UserContext())
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(metrics)
}
