package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SecretsDir is where Docker mounts secrets.
var SecretsDir = "/run/secrets"

// ReadSecret читает секрет из SecretsDir/<name>. Пустой файл считается ошибкой.
func ReadSecret(name string) (string, error) {
	path := filepath.Join(SecretsDir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}

// SecretOr returns the secret when mounted, else fallback.
func SecretOr(name, fallback string) string {
	if s, err := ReadSecret(name); err == nil {
		return s
	}
	return fallback
}
