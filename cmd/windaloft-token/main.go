package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/unklstewy/windaloft/internal/auth"
	"github.com/unklstewy/windaloft/pkg/config"
)

// windaloft-token mints a bearer token for a receiver station or operator,
// signed with the server's auth.jwt_secret.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	subject := flag.String("subject", "", "Client name stamped into the token (required)")
	role := flag.String("role", auth.RoleFeeder, "Role: feeder, operator or admin")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "Error: -subject is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	svc, err := auth.NewService(auth.Config{
		JWTSecret:     cfg.Auth.JWTSecret,
		TokenDuration: cfg.Auth.TokenDuration(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create auth service: %v (set WINDALOFT_JWT_SECRET)\n", err)
		os.Exit(1)
	}

	token, err := svc.GenerateToken(*subject, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
