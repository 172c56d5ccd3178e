package services

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/models"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomUnavailable = errors.New("room not available")
	ErrInvalidRoom     = errors.New("invalid room")
	ErrInvalidAmount   = errors.New("amount must be positive")
)

const maxRoomPage = 100

// RoomFilter narrows List.
type RoomFilter struct {
	City          string
	MaxRent       int64
	AvailableOnly bool
	Limit         int
}

type RoomService struct {
	db *gorm.DB
}

func NewRoomService(db *gorm.DB) *RoomService {
	return &RoomService{db: db}
}

func (s *RoomService) List(f RoomFilter) ([]models.Room, error) {
	var rooms []models.Room
	q := s.db.Order("created_at desc")
	if f.City != "" {
		q = q.Where("LOWER(city) = ?", strings.ToLower(f.City))
	}
	if f.MaxRent > 0 {
		q = q.Where("rent_monthly <= ?", f.MaxRent)
	}
	if f.AvailableOnly {
		q = q.Where("available = ?", true)
	}
	limit := f.Limit
	if limit <= 0 || limit > maxRoomPage {
		limit = maxRoomPage
	}
	if err := q.Limit(limit).Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

func (s *RoomService) Get(id uint) (*models.Room, error) {
	var room models.Room
	if err := s.db.First(&room, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// Create stores a listing owned by ownerID.
func (s *RoomService) Create(ownerID uint, room *models.Room) error {
	room.Title = strings.TrimSpace(room.Title)
	room.City = strings.TrimSpace(room.City)
	if room.Title == "" || room.City == "" || room.RentMonthly <= 0 || room.Capacity <= 0 {
		return ErrInvalidRoom
	}
	room.ID = 0
	room.UUID = uuid.NewString()
	room.OwnerID = ownerID
	room.Available = true
	return s.db.Create(room).Error
}

// CreatePaymentIntent records a pending deposit for an available room.
func (s *RoomService) CreatePaymentIntent(userID, roomID uint, amount int64) (*models.PaymentIntent, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	room, err := s.Get(roomID)
	if err != nil {
		return nil, err
	}
	if !room.Available {
		return nil, ErrRoomUnavailable
	}
	intent := &models.PaymentIntent{
		UUID:     uuid.NewString(),
		UserID:   userID,
		RoomID:   room.ID,
		Amount:   amount,
		Currency: "INR",
		Status:   "pending",
	}
	if err := s.db.Create(intent).Error; err != nil {
		return nil, err
	}
	return intent, nil
}
