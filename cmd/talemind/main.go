// Package main is the entry point for talemind.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/azyu/talemind/internal/app"
	"github.com/azyu/talemind/internal/storage"
	"github.com/azyu/talemind/internal/styles"
	"github.com/azyu/talemind/pkg/types"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.ErrorText.Render(err.Error()))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "talemind",
	Short: "Interactive fiction with a memory",
	Long: `Talemind plays interactive fiction with an AI narrator. It keeps world and
plot cards, activates them when the story mentions them, and fits them into
the model's context on every turn.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the configuration file location and engine settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cm, err := app.NewConfigManager()
		if err != nil {
			return err
		}
		cfg, err := cm.LoadGlobalConfig()
		if err != nil {
			return err
		}
		dbPath, err := cm.DBPath()
		if err != nil {
			return err
		}
		e := cfg.Engine
		fmt.Println(styles.KV("config", cm.Path()))
		fmt.Println(styles.KV("database", dbPath))
		fmt.Println(styles.KV("provider", cfg.Defaults.Provider))
		fmt.Println(styles.KV("context_limit", e.ContextLimit))
		fmt.Println(styles.KV("response_reserve", e.ResponseReserve))
		fmt.Println(styles.KV("plot_memory", e.PlotMemory))
		fmt.Println(styles.KV("tokenizer", e.Tokenizer))
		fmt.Println(styles.KV("grace_period", e.GracePeriod))
		return nil
	},
}

// withApp runs fn with an initialized application and closes it afterwards.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New()
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}
	defer a.Close()
	return fn(context.Background(), a)
}

// resolveGame finds a game by id or by name.
func resolveGame(ctx context.Context, db *storage.SQLiteDB, ref string) (types.Game, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return db.GetGame(ctx, id)
	}
	games, err := db.ListGames(ctx)
	if err != nil {
		return types.Game{}, err
	}
	for _, g := range games {
		if strings.EqualFold(g.Name, ref) {
			return g, nil
		}
	}
	return types.Game{}, fmt.Errorf("game %q: %w", ref, storage.ErrNotFound)
}

// parseID parses a positive numeric id argument.
func parseID(what, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}

// errAborted is returned when the user declines a confirmation.
var errAborted = errors.New("aborted")

// confirm asks a yes/no question unless skip is set.
func confirm(title string, skip bool) error {
	if skip {
		return nil
	}
	ok := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("confirmation failed: %w", err)
	}
	if !ok {
		return errAborted
	}
	return nil
}

func init() {
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(cardCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(redoCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(authCmd)
}
