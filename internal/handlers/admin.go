// internal/handlers/admin.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/tunevault-backend/internal/services"
	"github.com/javajoker/tunevault-backend/internal/utils"
)

type AdminHandler struct {
	sponsorService *services.SponsorService
}

func NewAdminHandler(sponsorService *services.SponsorService) *AdminHandler {
	return &AdminHandler{
		sponsorService: sponsorService,
	}
}

// GET /admin/sponsorship
func (h *AdminHandler) GetSponsorship(c *gin.Context) {
	utils.SuccessResponse(c, h.sponsorService.Status(c.Request.Context()))
}
