package main

import (
	"errors"
	"flag"
	"log"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"gorm.io/gorm"

	"github.com/sykell/site-replicator/internal/db"
	"github.com/sykell/site-replicator/internal/service"
)

// SeedConfig holds seed configuration
type SeedConfig struct {
	Username    string
	Password    string
	Force       bool
	GithubToken string
}

// NewSeedConfig creates a new seed configuration
func NewSeedConfig() *SeedConfig {
	username := flag.String("username", "admin", "Admin username")
	password := flag.String("password", "adminpass", "Admin password")
	force := flag.Bool("force", false, "Force recreation of admin user")
	githubToken := flag.String("github-token", "", "GitHub personal access token (repo scope) stored in the user's vault")

	flag.Parse()

	return &SeedConfig{
		Username:    *username,
		Password:    *password,
		Force:       *force,
		GithubToken: *githubToken,
	}
}

func main() {
	config := NewSeedConfig()

	// Validate configuration
	if config.Username == "" {
		log.Fatal("Username cannot be empty")
	}
	if config.Password == "" {
		log.Fatal("Password cannot be empty")
	}
	if len(config.Password) < 6 {
		log.Fatal("Password must be at least 6 characters long")
	}

	log.Println("Starting database seeding...")

	dbConn, err := db.InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	user, err := service.GetUserByUsername(dbConn, config.Username)
	switch {
	case err == nil && !config.Force:
		log.Printf("Admin user '%s' already exists. Use -force flag to recreate.", config.Username)
	case err == nil:
		log.Printf("Recreating admin user '%s'...", config.Username)
		if err := dbConn.Delete(user).Error; err != nil {
			log.Fatalf("Failed to delete existing user: %v", err)
		}
		user = createUser(dbConn, config)
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = createUser(dbConn, config)
	default:
		log.Fatalf("Database error checking existing user: %v", err)
	}

	if config.GithubToken != "" {
		key := os.Getenv("SECRETS_KEY")
		if key == "" {
			log.Println("WARNING: SECRETS_KEY not set, sealing with the default key")
			key = "changeme"
		}
		if err := service.SetUserSecret(dbConn, service.NewSecretBox(key), user.ID, service.SecretGithubToken, config.GithubToken); err != nil {
			log.Fatalf("Failed to store GitHub token: %v", err)
		}
		log.Printf("Stored GitHub token for user: %s", user.Username)
	}

	log.Println("Database seeding completed successfully")
}

func createUser(dbConn *gorm.DB, config *SeedConfig) *db.User {
	user, err := service.CreateUser(dbConn, config.Username, config.Password)
	if err != nil {
		log.Fatalf("Failed to create admin user: %v", err)
	}
	log.Printf("Successfully created admin user: %s", config.Username)
	log.Printf("User ID: %d", user.ID)
	return user
}
