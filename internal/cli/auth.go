package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"kxfer.org/internal/auth"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			p, err := opts.open()
			if err != nil {
				return err
			}
			u, err := p.Login(cmd.Context(), username, password)
			if err != nil {
				if errors.Is(err, auth.ErrAuthentication) {
					return errors.New("login failed: incorrect username or password")
				}
				return err
			}
			return opts.emit(cmd.OutOrStdout(), u, func(w io.Writer) {
				fmt.Fprintf(w, "Logged in as %s (%s, level %d, %s)\n", displayName(u), u.Role, u.Level, u.Band())
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username (required)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and remove the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.open()
			if err != nil {
				return err
			}
			// Resume first so the purge is recorded against the session.
			_, _ = p.Resume(cmd.Context())
			p.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, u, err := opts.openSession(cmd.Context())
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), u, func(w io.Writer) {
				fmt.Fprintf(w, "%s (%s)\nRole:   %s\nLevel:  %d (%s)\n", displayName(u), u.Username, u.Role, u.Level, u.Band())
				if u.IsHR {
					fmt.Fprintln(w, "HR:     yes")
				}
			})
		},
	}
}

func newCanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "can <level>",
		Short: "Check whether the current user meets a clearance level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("level must be an integer: %w", err)
			}
			p, err := opts.open()
			if err != nil {
				return err
			}
			// No session simply means no permission.
			_, _ = p.Resume(cmd.Context())
			ok := p.Can(level)
			return opts.emit(cmd.OutOrStdout(), map[string]any{"level": level, "allowed": ok}, func(w io.Writer) {
				if ok {
					fmt.Fprintln(w, "yes")
				} else {
					fmt.Fprintln(w, "no")
				}
			})
		},
	}
}

func displayName(u auth.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}
