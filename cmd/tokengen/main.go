// Command tokengen mints an access token accepted by the gateway, for
// exercising guarded routes locally without a running user service.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dskow/api-gateway/internal/auth"
	"github.com/dskow/api-gateway/internal/rpc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func main() {
	sub := flag.String("sub", uuid.NewString(), "user ID placed in the subject claim")
	role := flag.String("role", rpc.RoleUser, "role claim: USER, MODERATOR or ADMIN")
	sid := flag.String("sid", "", "session ID claim")
	banned := flag.Bool("banned", false, "set the isBanned claim")
	ttl := flag.Duration("ttl", 2*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_ACCESS_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "error: JWT_ACCESS_SECRET is not set")
		os.Exit(1)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		IsBanned:  *banned,
		Role:      *role,
		SessionID: *sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   *sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
		},
	})
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(s)
}
