package config

import (
	"os"

	"github.com/MarchanoGG/Watchdog/internal/cryptoutil"
)

// EncryptConfigFile seals a plaintext config (SSH and MySQL secrets included)
// so it can be stored as <name>.enc and opened with WATCHDOG_CONFIG_KEY.
func EncryptConfigFile(inputPath, outputPath, key string) error {
	plain, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return err
	}
	ciphertext, err := cryptoutil.EncryptConfig(plain, parsed)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, ciphertext, 0o600)
}
