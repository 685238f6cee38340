package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/commentboard/backend/internal/config"
	"github.com/commentboard/backend/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading env vars from system")
	}

	cfg := config.Load()
	srv := server.NewServer(cfg)

	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
