// Command devtoken mints an access token for local testing against a
// running server. The signing secret is read from GARMAX_AUTH_JWT_SECRET.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/config"
	"github.com/phrazzld/garmax-api/internal/service/auth"
)

func main() {
	owner := flag.String("owner", "", "owner ID to embed (random when empty)")
	lifetime := flag.Duration("lifetime", time.Hour, "token lifetime")
	flag.Parse()

	ownerID := uuid.New()
	if *owner != "" {
		var err error
		if ownerID, err = uuid.Parse(*owner); err != nil {
			log.Fatalf("invalid owner ID: %v", err)
		}
	}

	svc, err := auth.NewJWTService(config.AuthConfig{
		JWTSecret:     os.Getenv(config.EnvPrefix + "_AUTH_JWT_SECRET"),
		TokenLifetime: *lifetime,
	})
	if err != nil {
		log.Fatalf("failed to create token service: %v", err)
	}

	token, err := svc.GenerateToken(context.Background(), ownerID)
	if err != nil {
		log.Fatalf("failed to mint token: %v", err)
	}
	fmt.Printf("owner: %s\ntoken: %s\n", ownerID, token)
}
