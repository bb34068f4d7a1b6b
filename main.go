package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"nowlex-decision-tree/internal/config"
	"nowlex-decision-tree/internal/logging"
	"nowlex-decision-tree/internal/metrics"
)

var (
	appCfg     *config.AppConfig
	logger     *slog.Logger
	appMetrics = metrics.NewMetrics()

	processID   string
	showMetrics bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// .env необязателен: переменные могут прийти из окружения
		if err := godotenv.Load(); err != nil {
			fmt.Println("⚠️ Файл .env не найден, используются переменные окружения")
		}

		appCfg = config.LoadAppConfig()
		if err := appCfg.Validate(); err != nil {
			return fmt.Errorf("ошибка конфигурации: %w", err)
		}
		logger = logging.New(os.Stderr, appCfg.LogLevel)
		slog.SetDefault(logger)
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if showMetrics {
			printMetrics(appMetrics.GetSnapshot())
		}
	}

	rootCmd.PersistentFlags().StringVarP(&processID, "process", "p", "", "идентификатор процесса")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "вывести счетчики после выполнения")

	registerCommands()
}
