// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/Kalypss/PortFolio/pkg/audit"
	"github.com/Kalypss/PortFolio/pkg/token"
)

type issuedToken struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func newTokenCommand(rt *runtimeState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage bearer tokens",
	}
	cmd.AddCommand(newTokenIssueCommand(rt))
	return cmd
}

func newTokenIssueCommand(rt *runtimeState) *cobra.Command {
	var (
		subject      string
		role         string
		outputFormat string
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed bearer token with the configured secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subject == "" || role == "" {
				return errors.New("--sub and --role are required")
			}
			cfg, err := rt.loadConfig()
			if err != nil {
				return err
			}
			logger, err := rt.logger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			recorder := audit.NewRecorder(audit.NewLogSink(logger), logger)
			authority, err := token.New(cfg.Token, recorder, clock.RealClock{})
			if err != nil {
				return err
			}
			tok, expiresAt, err := authority.Issue(cmd.Context(), token.Claims{Subject: subject, Role: role})
			if err != nil {
				return err
			}

			writer := rt.Writer()
			switch outputFormat {
			case "json":
				return json.NewEncoder(writer).Encode(issuedToken{Token: tok, Subject: subject, Role: role, ExpiresAt: expiresAt})
			case "":
				_, _ = fmt.Fprintln(writer, tok)
				return nil
			default:
				return fmt.Errorf("unknown output format %q", outputFormat)
			}
		},
	}

	cmd.Flags().StringVar(&subject, "sub", "", "Token subject")
	cmd.Flags().StringVar(&role, "role", "", "Token role (admin, editor, guest)")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "Output format: json")
	return cmd
}
