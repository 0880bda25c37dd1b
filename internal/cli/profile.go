package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProfileCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "View or edit the user profile",
	}
	cmd.AddCommand(newProfileGetCmd(app))
	cmd.AddCommand(newProfileSetCmd(app))
	return cmd
}

func newProfileGetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Fetch the profile from the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(app); err != nil {
				return err
			}
			user, err := app.API.GetUser(cmd.Context(), app.Session.CurrentUserID())
			if err != nil {
				return err
			}
			app.Session.SetProfile(*user)
			fmt.Printf("Name:  %s\nRole:  %s\nEmail: %s\n", user.Name, user.Role, user.Email)
			return nil
		},
	}
}

func newProfileSetCmd(app *App) *cobra.Command {
	var name, role string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Save name and role (email is immutable)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(app); err != nil {
				return err
			}
			user, err := app.Dispatcher.SaveProfile(cmd.Context(), name, role)
			if err != nil {
				return fmt.Errorf("profile save failed: %w", err)
			}
			fmt.Printf("Saved. Name: %s, Role: %s\n", user.Name, user.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "role")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("role")
	return cmd
}
