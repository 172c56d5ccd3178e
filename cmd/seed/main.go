package main

import (
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/config"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/database"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.PaymentIntent{},
		&models.SecurityDecision{},
		&models.SecurityAudit{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	fmt.Println("✓ Database migrated successfully")

	// Seed default admin user
	adminEmail := os.Getenv("MW_DEFAULT_ADMIN_EMAIL")
	if adminEmail == "" {
		adminEmail = "admin@localhost"
	}
	adminPassword := os.Getenv("MW_DEFAULT_ADMIN_PASSWORD")

	admin := seedUser(db, models.User{Email: adminEmail, Name: "Administrator", Role: models.RoleAdmin}, adminPassword)
	owner := seedUser(db, models.User{Email: "owner@localhost", Name: "Sample Owner", Role: models.RoleOwner}, "")

	rooms := []models.Room{
		{Title: "Single room near Koramangala", City: "Bengaluru", Address: "5th Block, Koramangala", RentMonthly: 900000, Capacity: 1},
		{Title: "Shared PG with meals", City: "Pune", Address: "Viman Nagar", RentMonthly: 650000, Capacity: 3, Description: "Two meals a day included"},
		{Title: "Boys hostel, North Campus", City: "Delhi", Address: "Kamla Nagar", RentMonthly: 550000, Capacity: 4},
	}
	for _, room := range rooms {
		var existing models.Room
		if err := db.Where("title = ?", room.Title).First(&existing).Error; err == nil {
			fmt.Printf("  Room already exists: %s\n", room.Title)
			continue
		}
		room.UUID = uuid.NewString()
		room.OwnerID = owner.ID
		room.Available = true
		if err := db.Create(&room).Error; err != nil {
			log.Printf("Failed to seed room %s: %v", room.Title, err)
			continue
		}
		fmt.Printf("✓ Created room: %s (%s)\n", room.Title, room.City)
	}

	fmt.Printf("\n✓ Database seeding completed successfully! Admin: %s\n", admin.Email)
}

// seedUser creates u unless a user with the same email exists. Without a
// password the account gets a placeholder hash and cannot log in.
func seedUser(db *gorm.DB, u models.User, password string) models.User {
	var existing models.User
	if err := db.Where("email = ?", u.Email).First(&existing).Error; err == nil {
		fmt.Printf("  User already exists: %s\n", existing.Email)
		return existing
	}

	u.UUID = uuid.NewString()
	u.Enabled = true
	if password != "" {
		if err := u.SetPassword(password); err != nil {
			log.Printf("Failed to hash password for %s: %v", u.Email, err)
		}
	} else {
		u.PasswordHash = "$2a$10$example_hashed_password"
	}
	if err := db.Create(&u).Error; err != nil {
		log.Printf("Failed to seed user %s: %v", u.Email, err)
		return u
	}
	fmt.Printf("✓ Created user: %s (%s)\n", u.Email, u.Role)
	return u
}
