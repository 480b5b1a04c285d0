// Command gen-token prints an HS256 bearer token accepted by the server when
// AUTH_MODE=hs256.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"

	"todofy/config"
	"todofy/domain"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a TOML config file")
		userID     = flag.String("sub", domain.SeedOwnerID, "user id placed in the sub claim")
		email      = flag.String("email", "poojasri.s@example.com", "email claim")
		name       = flag.String("name", "Poojasri S", "name claim")
		ttl        = flag.Duration("ttl", time.Hour, "token lifetime")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.SharedSecret == "" {
		log.Fatal("LOCAL_AUTH_SHARED_SECRET must be set")
	}

	user := domain.User{ID: *userID, Email: *email, Name: *name}
	token, err := signToken([]byte(cfg.SharedSecret), user, cfg.Auth0Audience, *ttl, time.Now())
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	fmt.Print(token)
}

func signToken(secret []byte, user domain.User, audience string, ttl time.Duration, now time.Time) (string, error) {
	if user.ID == "" {
		return "", fmt.Errorf("empty user id")
	}
	claims := jwt.MapClaims{
		"sub": user.ID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if user.Email != "" {
		claims["email"] = user.Email
	}
	if user.Name != "" {
		claims["name"] = user.Name
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
