package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/models"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/services"
)

type RoomHandler struct {
	rooms *services.RoomService
}

func NewRoomHandler(rooms *services.RoomService) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

func (h *RoomHandler) List(c *gin.Context) {
	f := services.RoomFilter{
		City:          c.Query("city"),
		AvailableOnly: c.Query("available") == "true",
	}
	if v := c.Query("max_rent"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_rent"})
			return
		}
		f.MaxRent = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		f.Limit = n
	}

	rooms, err := h.rooms.List(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms, "count": len(rooms)})
}

func (h *RoomHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	room, err := h.rooms.Get(uint(id))
	if err != nil {
		if errors.Is(err, services.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}
	c.JSON(http.StatusOK, room)
}

type CreateRoomRequest struct {
	Title       string `json:"title" binding:"required,max=120"`
	Description string `json:"description" binding:"max=4000"`
	City        string `json:"city" binding:"required,max=80"`
	Address     string `json:"address" binding:"max=300"`
	RentMonthly int64  `json:"rent_monthly" binding:"required,gt=0"`
	Capacity    int    `json:"capacity" binding:"required,gt=0,lte=20"`
}

func (h *RoomHandler) Create(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room := &models.Room{
		Title:       req.Title,
		Description: req.Description,
		City:        req.City,
		Address:     req.Address,
		RentMonthly: req.RentMonthly,
		Capacity:    req.Capacity,
	}
	if err := h.rooms.Create(c.GetUint("userID"), room); err != nil {
		if errors.Is(err, services.ErrInvalidRoom) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}
	c.JSON(http.StatusCreated, room)
}
