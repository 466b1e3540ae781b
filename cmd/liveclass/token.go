package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"liveclass/internal/auth"
	"liveclass/pkg/types"
)

func newTokenCmd(c *cli) *cobra.Command {
	var (
		userID string
		name   string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed auth token for local development",
		Example: `  liveclass token --user t1 --name "Ms. Rivera" --role teacher
  liveclass token --user s1 --role student --ttl 2h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			parsedRole, err := types.ParseRole(role)
			if err != nil {
				return err
			}
			if name == "" {
				name = userID
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl)
			if err != nil {
				return err
			}
			token, err := issuer.Issue(types.Identity{UserID: userID, Name: name, Role: parsedRole})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the user id)")
	cmd.Flags().StringVar(&role, "role", string(types.RoleStudent), "teacher or student")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	cobra.CheckErr(cmd.MarkFlagRequired("user"))
	return cmd
}
