package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// envFiles are loaded in order; a later file never overrides a value set by an earlier
// one or by the process environment.
var envFiles = []string{".env", ".env.local"}

// LoadEnvFiles loads .env style files that exist and returns the ones it read.
// Missing files are not an error.
func LoadEnvFiles(paths ...string) ([]string, error) {
	if len(paths) == 0 {
		paths = envFiles
	}
	var loaded []string
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return loaded, err
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}
