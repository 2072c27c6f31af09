package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv loads variables from a dotenv file into the process environment.
// A missing file is not an error; already-set variables are not overridden.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}
