// internal/handlers/asset.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/tunevault-backend/internal/services"
	"github.com/javajoker/tunevault-backend/internal/utils"
)

type AssetHandler struct {
	assetService    *services.AssetService
	transferService *services.TransferService
	storageService  *services.StorageService
}

func NewAssetHandler(assetService *services.AssetService, transferService *services.TransferService, storageService *services.StorageService) *AssetHandler {
	return &AssetHandler{
		assetService:    assetService,
		transferService: transferService,
		storageService:  storageService,
	}
}

// POST /assets
func (h *AssetHandler) MintAsset(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.MintAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "", err.Error())
		return
	}

	asset, err := h.assetService.MintAsset(c.Request.Context(), userID, &req)
	if err != nil {
		// A failed registration still created the asset; hand it back for retry.
		var details interface{}
		if asset != nil {
			details = gin.H{"asset": h.storageService.Present(*asset)}
		}
		respondError(c, err, details)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"asset": h.storageService.Present(*asset),
	})
}

// GET /assets/mine
func (h *AssetHandler) GetMyAssets(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	assets, err := h.assetService.GetUserAssets(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	utils.SuccessResponseWithMeta(c, h.storageService.PresentAll(assets), gin.H{
		"total": len(assets),
	})
}

// GET /assets/:id
func (h *AssetHandler) GetAsset(c *gin.Context) {
	id, ok := pathID(c, "asset")
	if !ok {
		return
	}

	asset, err := h.assetService.GetAsset(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	utils.SuccessResponse(c, h.storageService.Present(*asset))
}

// POST /assets/:id/confirm
func (h *AssetHandler) ConfirmAsset(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "asset")
	if !ok {
		return
	}

	result, err := h.assetService.ConfirmAssetRegistration(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"confirmed": result.Confirmed,
		"asset":     h.storageService.Present(*result.Asset),
	})
}

// POST /assets/:id/retry
func (h *AssetHandler) RetryAsset(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "asset")
	if !ok {
		return
	}

	asset, err := h.assetService.RetryAssetRegistration(c.Request.Context(), userID, id)
	if err != nil {
		var details interface{}
		if asset != nil {
			details = gin.H{"asset": h.storageService.Present(*asset)}
		}
		respondError(c, err, details)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"asset": h.storageService.Present(*asset),
	})
}

// GET /assets/:id/transfers
func (h *AssetHandler) GetAssetTransfers(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "asset")
	if !ok {
		return
	}

	transfers, err := h.transferService.GetAssetTransfers(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	utils.SuccessResponse(c, transfers)
}
