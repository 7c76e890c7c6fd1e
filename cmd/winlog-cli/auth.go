package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/winlog-go/internal/auth"
)

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with the winlogd server",
		Long: `Authenticate with the winlogd server using your client ID (and password,
when the server keeps a client registry). This prints a JWT token that can be
passed to subsequent commands with --token or WINLOG_TOKEN.`,
		RunE: runAuth,
	}

	return cmd
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Authenticating with server %s as client %s...\n", serverURL, clientID)

	resp, err := client.Authenticate(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Authentication successful (admin: %t, expires %s)\n",
		resp.IsAdmin, resp.ExpiresAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Token: %s\n", resp.Token)
	fmt.Fprintf(out, "\nSave this token for future use:\n")
	fmt.Fprintf(out, "  export WINLOG_TOKEN=\"%s\"\n", resp.Token)
	fmt.Fprintf(out, "  winlog-cli replay --channel Security --limit 10\n")

	return nil
}

func newHashPasswordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for the server client registry",
		Long: `Print a bcrypt hash suitable for server.clients.<id>.password_hash in the
winlogd config file. The password is read from stdin when not given.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{offlineAnnotation: "true"},
		RunE:        runHashPassword,
	}

	return cmd
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	var secret string
	if len(args) == 1 {
		secret = args[0]
	} else {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read password: %w", err)
		}
		secret = strings.TrimRight(line, "\r\n")
	}
	if secret == "" {
		return fmt.Errorf("password cannot be empty")
	}

	hash, err := auth.HashPassword(secret)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
