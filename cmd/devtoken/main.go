// Command devtoken mints a session access token for local development and
// optionally registers the user's role in the data store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func main() {
	sub := flag.String("sub", "", "user ID (default: random UUID)")
	email := flag.String("email", "dev@localhost", "email claim")
	role := flag.String("role", "physician", "application role (physician or admin)")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	audience := flag.String("aud", "authenticated", "audience claim (empty to omit)")
	secret := flag.String("secret", "", "HS256 signing secret (overrides SUPABASE_JWT_SECRET)")
	dbURL := flag.String("db-url", "", "database URL; when set, the user row is upserted")
	cookie := flag.Bool("cookie", false, "print as a Cookie header instead of a bare token")
	flag.Parse()

	key := *secret
	if key == "" {
		key = os.Getenv("SUPABASE_JWT_SECRET")
	}
	if key == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -secret or SUPABASE_JWT_SECRET is required")
		os.Exit(1)
	}

	userID := *sub
	if userID == "" {
		userID = uuid.NewString()
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": *email,
		"role":  *role,
		"iat":   now.Unix(),
		"exp":   now.Add(*ttl).Unix(),
	}
	if *audience != "" {
		claims["aud"] = *audience
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}

	if *dbURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conn, err := pgx.Connect(ctx, *dbURL)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer conn.Close(ctx)

		_, err = conn.Exec(ctx, `
			INSERT INTO users (auth_id, email, role) VALUES ($1, $2, $3)
			ON CONFLICT (auth_id) DO UPDATE SET email = EXCLUDED.email, role = EXCLUDED.role`,
			userID, *email, *role,
		)
		if err != nil {
			log.Fatalf("failed to upsert user: %v", err)
		}
		fmt.Fprintf(os.Stderr, "user %s registered with role %s\n", userID, *role)
	}

	if *cookie {
		fmt.Printf("Cookie: sb-access-token=%s\n", token)
		return
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "user: %s  expires: %s\n", userID, now.Add(*ttl).Format(time.RFC3339))
}
