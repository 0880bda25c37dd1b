package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pipewatch/internal/session"
)

func newRegisterCmd(app *App) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := app.API.Register(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("registration failed: %w", err)
			}
			fmt.Println(resp.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginCmd(app *App) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and start a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := app.API.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if err := app.Session.Start(resp.Token); err != nil {
				if errors.Is(err, session.ErrDecode) || errors.Is(err, session.ErrExpired) {
					return fmt.Errorf("server issued an unusable token: %w", err)
				}
				return fmt.Errorf("failed to save session state: %w", err)
			}

			// Best effort profile fetch; the session is live either way.
			if user, err := app.API.GetUser(cmd.Context(), app.Session.CurrentUserID()); err == nil {
				app.Session.SetProfile(*user)
			} else {
				app.Logger.Debug("profile fetch after login failed: %v", err)
			}

			fmt.Printf("Logged in as %s\n", app.Session.CurrentUserID())
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and clear local state",
		RunE: func(cmd *cobra.Command, args []string) error {
			app.Dispatcher.Logout(cmd.Context())
			fmt.Println("Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(app); err != nil {
				return err
			}
			p := app.Session.Profile()
			fmt.Printf("User ID: %s\n", p.UserID)
			if p.Email != "" {
				fmt.Printf("Email:   %s\n", p.Email)
			}
			if p.Name != "" {
				fmt.Printf("Name:    %s\n", p.Name)
			}
			if p.Role != "" {
				fmt.Printf("Role:    %s\n", p.Role)
			}
			return nil
		},
	}
}
