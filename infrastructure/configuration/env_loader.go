package configuration

import (
	"os"
	"strings"

	"publish-pipeline/infrastructure/logger"

	"github.com/joho/godotenv"
)

// LoadEnvFromFile loads KEY=VALUE files (config.env, .env). Variables already present in the
// process environment win over file values.
func LoadEnvFromFile(paths ...string) {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return
	}
	if err := godotenv.Load(existing...); err != nil {
		logger.GetLogger().WithField("error", err).Warn("Failed loading env files")
		return
	}
	logger.GetLogger().WithField("files", strings.Join(existing, ",")).Info("Loaded env files")
}

// getConfigValue prefers the environment, then a non-placeholder config value, then the default.
func getConfigValue(configValue, envKey, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if configValue != "" && !strings.HasPrefix(configValue, "YOUR_") {
		return configValue
	}
	return defaultValue
}
