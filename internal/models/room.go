package models

import "time"

// Room is a mess or PG listing.
type Room struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	UUID        string    `json:"uuid" gorm:"uniqueIndex"`
	OwnerID     uint      `json:"owner_id" gorm:"index"`
	Title       string    `json:"title"`
	Description string    `json:"description" gorm:"type:text"`
	City        string    `json:"city" gorm:"index"`
	Address     string    `json:"address"`
	RentMonthly int64     `json:"rent_monthly"` // paise
	Capacity    int       `json:"capacity"`
	Available   bool      `json:"available" gorm:"default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PaymentIntent records a booking deposit a member intends to pay.
type PaymentIntent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UUID      string    `json:"uuid" gorm:"uniqueIndex"`
	UserID    uint      `json:"user_id" gorm:"index"`
	RoomID    uint      `json:"room_id" gorm:"index"`
	Amount    int64     `json:"amount"` // paise
	Currency  string    `json:"currency" gorm:"default:'INR'"`
	Status    string    `json:"status" gorm:"default:'pending'"`
	CreatedAt time.Time `json:"created_at"`
}
