package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/services"
)

type PaymentHandler struct {
	rooms *services.RoomService
}

func NewPaymentHandler(rooms *services.RoomService) *PaymentHandler {
	return &PaymentHandler{rooms: rooms}
}

type PaymentIntentRequest struct {
	RoomID uint  `json:"room_id" binding:"required"`
	Amount int64 `json:"amount" binding:"required"`
}

// CreateIntent records a pending booking deposit. Validation failures are
// client errors and count toward the payment pipeline's lockout.
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	var req PaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	intent, err := h.rooms.CreatePaymentIntent(c.GetUint("userID"), req.RoomID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrRoomUnavailable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create payment intent"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"intent_id": intent.UUID, "status": intent.Status, "amount": intent.Amount, "currency": intent.Currency})
}
