// Command gentoken mints a bearer token for local testing against a
// running server that shares the same JWT_SECRET.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/auth"
)

func main() {
	userID := flag.Int64("user-id", 1, "user id to embed in the token")
	expiry := flag.Duration("expiry", time.Hour, "token lifetime")
	issuer := flag.String("issuer", envOr("JWT_ISSUER", "safetynow"), "token issuer")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "Error: JWT_SECRET is not set")
		os.Exit(1)
	}

	token, err := auth.NewJWTManager(secret, *expiry, *issuer).Generate(*userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("JWT Token:")
	fmt.Println(token)
	fmt.Println("\nTest with:")
	fmt.Printf("curl -H 'Authorization: Bearer %s' http://localhost:8000/talks\n", token)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
