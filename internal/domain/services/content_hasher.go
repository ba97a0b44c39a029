package services

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"privacyguard/internal/domain/models"
	"privacyguard/pkg/logger"
)

// ContentHasher derives the SHA-256 of an installed application binary
type ContentHasher struct {
	logger *logger.Logger
}

// NewContentHasher creates a new content hasher
func NewContentHasher(log *logger.Logger) *ContentHasher {
	return &ContentHasher{logger: log.WithComponent("content-hasher")}
}

// HashFor returns the item's precomputed hash if present, otherwise hashes
// SourcePath. Any failure yields "".
func (h *ContentHasher) HashFor(item models.InventoryItem) string {
	if item.ContentHash != "" {
		return strings.ToLower(item.ContentHash)
	}
	if item.SourcePath == "" {
		return ""
	}

	hash, err := hashFile(item.SourcePath)
	if err != nil {
		h.logger.Debug().Err(err).
			Str("app_id", item.PackageName).
			Str("path", item.SourcePath).
			Msg("failed to hash application binary")
		return ""
	}
	return hash
}

// hashFile computes SHA256 hash of a file
func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
