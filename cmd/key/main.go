package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"fleet-tracking/internal/cli"
)

func main() {
	var (
		userID   = flag.Int64("user-id", 0, "POS user id (id claim and subject)")
		username = flag.String("username", "", "POS username")
		rol      = flag.String("rol", "", "Informational role claim, e.g. chofer | admin")
		secret   = flag.String("secret", os.Getenv("FLEET_JWT__SECRET_KEY"), "JWT HMAC secret (HS256)")
		ttl      = flag.Duration("ttl", 2*time.Hour, "Token lifetime")
	)
	flag.Parse()

	if *userID <= 0 || *username == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: key --user-id=7 --username=carlos --secret='<secret>' [--rol=chofer] [--ttl=2h]")
		os.Exit(2)
	}

	token, claims, err := cli.GenerateUserToken(*secret, *ttl, *userID, *username, *rol)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	fmt.Println("TOKEN:")
	fmt.Println(token)
	fmt.Println("\nCLAIMS:")
	fmt.Printf("  id:       %d\n", claims.ID)
	fmt.Printf("  username: %s\n", claims.Username)
	if claims.Rol != "" {
		fmt.Printf("  rol:      %s\n", claims.Rol)
	}
	fmt.Printf("  iat:      %s\n", claims.IssuedAt.Time.UTC().Format(time.RFC3339))
	fmt.Printf("  exp:      %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
}
