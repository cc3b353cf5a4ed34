// Mints a JWT for local testing and makes sure the user row exists, so a
// fresh database can drive the session API and websocket immediately.
//
// Usage: go run ./scripts/gentoken [display name]
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"codeberg.org/grimoire/server/grimoire/users"
	"codeberg.org/grimoire/server/internal/auth"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: .env file not found")
	}

	displayName := "Test Keeper"
	if len(os.Args) > 1 {
		displayName = os.Args[1]
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	ctx := context.Background()

	dbPool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	userRepo := users.NewRepository(dbPool)

	userID := uuid.New().String()
	user, err := userRepo.UpsertFromToken(ctx, userID, displayName)
	if err != nil {
		log.Fatalf("failed to create test user: %v", err)
	}

	token, err := auth.GenerateJWT(user.ID, user.DisplayName)
	if err != nil {
		log.Fatalf("failed to generate token: %v", err)
	}

	fmt.Printf("user_id: %s\n", user.ID)
	fmt.Printf("token:   %s\n", token)
	fmt.Println()
	fmt.Println("connect with:")
	fmt.Printf("  curl -H 'Authorization: Bearer %s' http://localhost:8080/api/v1/sessions\n", token)
}
