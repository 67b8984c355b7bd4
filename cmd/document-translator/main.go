package main

import (
	"os"

	"github.com/joho/godotenv"

	"document-translator/internal/logger"
)

func main() {
	// A missing .env file is fine; keys may come from the environment directly.
	_ = godotenv.Load()

	err := rootCmd.Execute()
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}
