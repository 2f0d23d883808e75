// Command devtoken prints a bearer token for a user id, signed with JWT_SECRET,
// for calling the API locally.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"eventpayments/config"
	"eventpayments/internal/adapters/auth"
)

func main() {
	userID := flag.String("user", "", "user id (profiles.id) to put in the token subject")
	userEmail := flag.String("email", "", "email claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if *userID == "" || cfg.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "usage: JWT_SECRET=... devtoken -user <id> [-email addr] [-ttl 1h]")
		os.Exit(2)
	}

	token, err := auth.NewJWTIssuer(cfg.JWTSecret).Issue(*userID, *userEmail, nil, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
