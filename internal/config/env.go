package config

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
)

var envFiles = []string{".env", ".env.local"}

// loadEnvFiles loads every env file present. Variables already set in the
// process environment win.
func loadEnvFiles() {
	for _, name := range envFiles {
		err := godotenv.Load(name)
		switch {
		case err == nil:
			slog.Debug("Loaded environment file", "path", name)
		case errors.Is(err, fs.ErrNotExist):
		default:
			slog.Warn("Failed to load environment file", "path", name, "error", err)
		}
	}
}
