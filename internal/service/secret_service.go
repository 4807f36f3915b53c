package service

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sykell/site-replicator/internal/db"
)

const (
	// SecretGithubToken names the user-level GitHub token
	SecretGithubToken = "github_pat"
	// SecretLLMKey names the user's own LLM API key
	SecretLLMKey = "llm_api_key"
)

// SecretBox seals user secrets at rest
type SecretBox struct {
	key [32]byte
}

// NewSecretBox derives the sealing key from a passphrase
func NewSecretBox(passphrase string) *SecretBox {
	return &SecretBox{key: sha256.Sum256([]byte(passphrase))}
}

// Seal encrypts plaintext with a random nonce prefixed to the output
func (b *SecretBox) Seal(plaintext string) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key), nil
}

// Open decrypts a value produced by Seal
func (b *SecretBox) Open(sealed []byte) (string, error) {
	if len(sealed) < 24 {
		return "", errors.New("sealed secret too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &b.key)
	if !ok {
		return "", errors.New("failed to open sealed secret")
	}
	return string(plain), nil
}

// SetUserSecret stores or replaces a named secret for a user
func SetUserSecret(dbConn *gorm.DB, box *SecretBox, userID uint, name, value string) error {
	if userID == 0 || name == "" {
		return fmt.Errorf("user ID and secret name are required")
	}
	sealed, err := box.Seal(value)
	if err != nil {
		return err
	}
	secret := db.UserSecret{UserID: userID, Name: name, Sealed: sealed}
	return dbConn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"sealed", "updated_at"}),
	}).Create(&secret).Error
}

// GetUserSecret returns the named secret, or an empty string when none is stored
func GetUserSecret(dbConn *gorm.DB, box *SecretBox, userID uint, name string) (string, error) {
	var secret db.UserSecret
	err := dbConn.Where("user_id = ? AND name = ?", userID, name).First(&secret).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return box.Open(secret.Sealed)
}
