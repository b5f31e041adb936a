// internal/handlers/transfer.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/tunevault-backend/internal/services"
	"github.com/javajoker/tunevault-backend/internal/utils"
)

type TransferHandler struct {
	transferService *services.TransferService
}

func NewTransferHandler(transferService *services.TransferService) *TransferHandler {
	return &TransferHandler{
		transferService: transferService,
	}
}

// POST /transfers
func (h *TransferHandler) TransferAsset(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.TransferAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "", err.Error())
		return
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	transfer, err := h.transferService.TransferAsset(c.Request.Context(), userID, &req)
	if err != nil {
		var details interface{}
		if transfer != nil {
			details = gin.H{"transfer": transfer}
		}
		respondError(c, err, details)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"transfer": transfer,
	})
}

// POST /transfers/:id/confirm
func (h *TransferHandler) ConfirmTransfer(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "transfer")
	if !ok {
		return
	}

	result, err := h.transferService.ConfirmTransfer(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	utils.SuccessResponse(c, result)
}
