package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-visit-tracker/internal/config"
)

func newTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <profile-id>",
		Short: "Mint a development bearer token",
		Long:  "Sign an HS256 token for the given profile with JWT_SECRET. Meant for local testing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tok, err := mintToken(cfg.Auth, strings.TrimSpace(args[0]), ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")

	return cmd
}

func mintToken(auth config.AuthConfig, sub string, ttl time.Duration, now time.Time) (string, error) {
	if auth.JWTSecret == "" {
		return "", errors.New("JWT_SECRET is not set")
	}
	if sub == "" {
		return "", errors.New("profile id must not be empty")
	}
	if ttl <= 0 {
		return "", errors.New("--ttl must be positive")
	}
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    auth.JWTIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(auth.JWTSecret))
}
