package cli

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/TWRT/taskboard/internal/client/taskboard"
	"github.com/TWRT/taskboard/internal/models"
)

func (a *App) registerCmd() *cobra.Command {
	var password, name string
	cmd := &cobra.Command{
		Use:   "register <email>",
		Short: "Create an account and sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server := a.server(session{})
			client := taskboard.NewClient(server, "")
			sess, err := client.Register(cmd.Context(), args[0], password, name)
			if err != nil {
				return fmt.Errorf("register: %w", err)
			}
			return a.saveSession(server, sess)
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the part of the email before @)")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func (a *App) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in and remember the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server := a.server(session{})
			client := taskboard.NewClient(server, "")
			sess, err := client.Login(cmd.Context(), args[0], password)
			if err != nil {
				var apiErr *taskboard.APIError
				if errors.As(err, &apiErr) {
					return errors.New(apiErr.Message)
				}
				return fmt.Errorf("login: %w", err)
			}
			return a.saveSession(server, sess)
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func (a *App) saveSession(server string, sess taskboard.Session) error {
	err := writeSession(a.cfg.TokenFile, session{
		Server: server,
		Token:  sess.Token,
		UID:    sess.User.UID,
		Email:  sess.User.Email,
	})
	if err != nil {
		return err
	}
	return a.emit(sess.User, func() string {
		return fmt.Sprintf("Signed in as %s\n", userLabel(sess.User))
	})
}

func (a *App) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := removeSession(a.cfg.TokenFile); err != nil {
				return err
			}
			fmt.Fprintln(a.Err, "Signed out")
			return nil
		},
	}
}

func (a *App) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.connect()
			if err != nil {
				return err
			}
			user, err := client.Me(cmd.Context())
			if err != nil {
				if taskboard.IsStatus(err, http.StatusUnauthorized) {
					return ErrNotLoggedIn
				}
				return err
			}
			return a.emit(user, func() string {
				return userLabel(user) + "\n"
			})
		},
	}
}

func userLabel(u models.User) string {
	if u.DisplayName == "" {
		return u.Email
	}
	return fmt.Sprintf("%s <%s>", u.DisplayName, u.Email)
}
