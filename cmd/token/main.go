// Command token mints a bearer token for a calling service or an operator.
//
//	token -subject billing-service
//	token -subject ops@example.com -role admin -expiry 1h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BradenHooton/aegis/internal/auth"
	"github.com/BradenHooton/aegis/internal/config"
	"github.com/BradenHooton/aegis/internal/models"
)

func main() {
	subject := flag.String("subject", "", "token subject (service name or operator id)")
	role := flag.String("role", string(models.RoleService), "token role: service or admin")
	expiry := flag.Duration("expiry", 0, "token lifetime (default TOKEN_EXPIRY)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	lifetime := cfg.Auth.TokenExpiry
	if *expiry > 0 {
		lifetime = *expiry
	}

	token, err := auth.NewTokenManager(cfg.Auth.JWTSecret, lifetime).GenerateToken(*subject, models.Role(*role))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(lifetime).UTC().Format(time.RFC3339))
	fmt.Println(token)
}
