// Command seeduser creates an account directly in the database. Accounts are
// provisioned by the marketplace platform in production; this covers local
// development, staging, and operator bootstrap.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/gigdesk/gigdesk/internal/auth"
	"github.com/gigdesk/gigdesk/internal/store"
)

func main() {
	var (
		name     = flag.String("name", "", "display name")
		email    = flag.String("email", "", "account email")
		role     = flag.String("role", "client", "account role (client or freelancer)")
		password = flag.String("password", "", "account password")
	)
	flag.Parse()

	if *name == "" || *email == "" || *password == "" {
		log.Fatal("-name, -email and -password are required")
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %+v", err)
	}

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		log.Fatal("DB_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg, err := store.NewPostgresStore(ctx, dbURL)
	if err != nil {
		log.Fatalf("could not connect to the postgresql database: %v", err)
	}
	defer pg.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	user, err := pg.CreateUser(ctx, *name, *email, *role, hash)
	if err != nil {
		log.Fatalf("failed to create user: %v", err)
	}

	log.Printf("created user %s (%s, %s)", user.ID, user.Email, user.Role)
}
