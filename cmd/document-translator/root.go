package main

import (
	"github.com/spf13/cobra"

	"document-translator/internal/config"
	"document-translator/internal/logger"
)

var (
	cfgPath string
	logFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "document-translator",
	Short: "Translate Russian, Arabic and Chinese documents to English with formula protection",
	Long: `document-translator converts PDF, DOCX and plain-text documents written in
Russian, Arabic or Chinese into English Markdown and HTML. Mathematical
formulas are detected before translation, shielded behind placeholder tokens
and substituted back afterwards as math markup or embedded images.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logger.LevelInfo
		if verbose {
			level = logger.LevelDebug
		}
		return logger.Init(&logger.Config{
			LogFilePath:   logFile,
			MaxFileSize:   10 * 1024 * 1024,
			MaxBackups:    5,
			Level:         level,
			EnableConsole: verbose,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"config file (default ~/.config/document-translator/"+config.DefaultConfigFileName+")")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "document-translator.log",
		"log file path, empty to log to stderr only")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig loads the config file (or defaults) with env overrides applied.
func loadConfig() (*config.Manager, error) {
	mgr, err := config.NewManager(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := mgr.Load(); err != nil {
		return nil, err
	}
	return mgr, nil
}
