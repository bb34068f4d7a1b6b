package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AppConfig содержит настройки окружения приложения
type AppConfig struct {
	Tree       TreeSourceConfig
	Generation GenerationConfig
	Storage    StorageConfig
	LogLevel   string
}

// TreeSourceConfig описывает источник конфигурации дерева
type TreeSourceConfig struct {
	Path string
	URL  string
}

// GenerationConfig описывает эндпоинты генерации документов
type GenerationConfig struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerMin int
}

// StorageConfig описывает хранение ответов и черновиков
type StorageConfig struct {
	ResultsDir    string
	DraftDBPath   string
	AutosaveDelay time.Duration
}

// LoadAppConfig загружает конфигурацию из переменных окружения
func LoadAppConfig() *AppConfig {
	return &AppConfig{
		Tree: TreeSourceConfig{
			Path: getEnv("TREE_CONFIG_PATH", "config/tree.yaml"),
			URL:  getEnv("TREE_CONFIG_URL", ""),
		},
		Generation: GenerationConfig{
			BaseURL:        getEnv("GENERATION_BASE_URL", "http://localhost:8000"),
			Timeout:        getEnvAsDuration("GENERATION_TIMEOUT", 120*time.Second),
			RequestsPerMin: getEnvAsInt("GENERATION_REQUESTS_PER_MIN", 6),
		},
		Storage: StorageConfig{
			ResultsDir:    getEnv("RESULTS_DIR", "results"),
			DraftDBPath:   getEnv("DRAFT_DB_PATH", "drafts.db"),
			AutosaveDelay: getEnvAsDuration("AUTOSAVE_DELAY", 400*time.Millisecond),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate проверяет корректность конфигурации
func (c *AppConfig) Validate() error {
	if c.Tree.Path == "" && c.Tree.URL == "" {
		return fmt.Errorf("TREE_CONFIG_PATH или TREE_CONFIG_URL обязателен")
	}
	if c.Generation.BaseURL == "" {
		return fmt.Errorf("GENERATION_BASE_URL обязателен")
	}
	if c.Generation.RequestsPerMin <= 0 {
		return fmt.Errorf("GENERATION_REQUESTS_PER_MIN должен быть положительным")
	}
	if c.Storage.AutosaveDelay <= 0 {
		return fmt.Errorf("AUTOSAVE_DELAY должен быть положительным")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
