package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token for local development",
	Long:  `Sign a bearer token with the configured JWT secret. Identity is owned by an upstream service in production.`,
	Run: func(cmd *cobra.Command, args []string) {
		issueToken()
	},
}

var (
	tokenUserID int64
	tokenRole   string
	tokenName   string
	tokenTTL    time.Duration
)

func issueToken() {
	cfg, _ := setup("token")

	tokens := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, tokenTTL)
	token, err := tokens.GenerateAccessToken(tokenUserID, tokenRole, tokenName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenUserID, "user-id", 1, "Subject user id")
	tokenCmd.Flags().StringVar(&tokenRole, "role", internal.RoleStudent, "Role: student or admin")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "Display name")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", accessTokenTTL, "Token lifetime")

	rootCmd.AddCommand(tokenCmd)
}
