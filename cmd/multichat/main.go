package main

import (
	"flag"
	"fmt"
	"os"

	"MultiChat/internal/chatbot"
	"MultiChat/internal/config"
)

func main() {
	var cfg config.Config

	flag.StringVar(&cfg.DBPath, "db", "multichat.db", "Path to the SQLite database")
	flag.StringVar(&cfg.APIKey, "api-key", "", "OpenRouter API key (defaults to OPENROUTER_API_KEY)")
	flag.StringVar(&cfg.Model, "model", "", "Model id override for this run")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	bot, err := chatbot.NewChatBot(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize chatbot: %v\n", err)
		os.Exit(1)
	}

	if err := bot.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
