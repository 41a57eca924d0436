package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TWRT/taskboard/internal/client/taskboard"
	"github.com/TWRT/taskboard/internal/models"
)

func (a *App) prefsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prefs",
		Short: "Show your saved theme and view mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.connect()
			if err != nil {
				return err
			}
			return a.emitPrefs(cmd.Context(), client)
		},
	}
}

func (a *App) themeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "theme <light|dark>",
		Short:     "Save the theme preference",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(models.ThemeLight), string(models.ThemeDark)},
		RunE: func(cmd *cobra.Command, args []string) error {
			theme, err := models.ParseTheme(args[0])
			if err != nil {
				return err
			}
			client, _, err := a.connect()
			if err != nil {
				return err
			}
			if err := client.SetTheme(cmd.Context(), "", theme); err != nil {
				return err
			}
			return a.emitPrefs(cmd.Context(), client)
		},
	}
}

func (a *App) viewCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "view <list|board>",
		Short:     "Save the default view mode used by show",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(models.ViewList), string(models.ViewBoard)},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := models.ParseViewMode(args[0])
			if err != nil {
				return err
			}
			client, _, err := a.connect()
			if err != nil {
				return err
			}
			if err := client.SetView(cmd.Context(), "", mode); err != nil {
				return err
			}
			return a.emitPrefs(cmd.Context(), client)
		},
	}
}

func (a *App) emitPrefs(ctx context.Context, client *taskboard.Client) error {
	prefs, err := client.GetPreferences(ctx, "")
	if err != nil {
		return err
	}
	return a.emit(prefs, func() string {
		return fmt.Sprintf("theme: %s\nview:  %s\n", prefs.Theme, prefs.View)
	})
}
