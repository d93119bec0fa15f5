package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/azyu/talemind/internal/app"
	"github.com/azyu/talemind/internal/storage"
	"github.com/azyu/talemind/internal/styles"
	"github.com/azyu/talemind/pkg/types"
)

var cardCmd = &cobra.Command{
	Use:   "card",
	Short: "Manage instruction, plot and world cards",
}

var cardAddCmd = &cobra.Command{
	Use:   "add <game> <family> <title> <content>",
	Short: "Add a card (family: instruction, plot or world)",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		triggers, _ := cmd.Flags().GetStringSlice("trigger")
		kind, _ := cmd.Flags().GetString("kind")
		locked, _ := cmd.Flags().GetBool("locked")
		always, _ := cmd.Flags().GetBool("always")

		family, title, content := strings.ToLower(args[1]), args[2], args[3]
		return withGame(args[0], func(ctx context.Context, a *app.App, game types.Game) error {
			s, err := a.Inspect(ctx, game.ID)
			if err != nil {
				return err
			}
			defer s.Close()

			var id int64
			switch family {
			case storage.FamilyInstruction:
				card, err := s.AddInstructionCard(ctx, types.InstructionCard{Title: title, Content: content})
				if err != nil {
					return err
				}
				id = card.ID
			case storage.FamilyPlot:
				card, err := s.AddPlotCard(ctx, types.PlotCard{Title: title, Content: content, Source: types.SourceUser})
				if err != nil {
					return err
				}
				id = card.ID
			case storage.FamilyWorld:
				k := types.WorldKind(kind)
				if !types.ValidKind(k) {
					return fmt.Errorf("unknown kind %q (use main_hero, npc or world)", kind)
				}
				c := types.NewWorldCard(title, content, k, triggers...)
				c.IsLocked = locked
				if always {
					c.MemoryTurns = nil
				}
				card, err := s.AddWorldCard(ctx, c)
				if err != nil {
					return err
				}
				id = card.ID
			default:
				return fmt.Errorf("unknown card family %q", family)
			}
			fmt.Println(styles.SuccessText.Render(fmt.Sprintf("Added %s card %d: %s", family, id, title)))
			return nil
		})
	},
}

var cardListCmd = &cobra.Command{
	Use:   "list <game>",
	Short: "List a game's cards",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGame(args[0], func(ctx context.Context, a *app.App, game types.Game) error {
			s, err := a.Inspect(ctx, game.ID)
			if err != nil {
				return err
			}
			defer s.Close()

			st := s.State()
			fmt.Println(styles.Header.Render(game.Name + ": cards"))
			for _, c := range st.Instructions {
				fmt.Printf("  %3d  %-11s %s\n", c.ID, "instruction", c.Title)
			}
			for _, c := range st.Plots {
				fmt.Printf("  %3d  %-11s %s %s\n", c.ID, "plot", c.Title, styles.MutedText.Render("("+c.Source+")"))
			}
			for _, c := range st.World {
				fmt.Printf("  %3d  %-11s %s %s\n", c.ID, "world", c.Title, styles.MutedText.Render(worldDetail(c)))
			}
			return nil
		})
	},
}

func worldDetail(c types.WorldCard) string {
	parts := []string{string(c.Kind)}
	if len(c.Triggers) > 0 {
		parts = append(parts, "triggers: "+strings.Join(c.Triggers, ", "))
	}
	if c.MemoryTurns == nil {
		parts = append(parts, "always active")
	} else {
		parts = append(parts, fmt.Sprintf("%d turns", *c.MemoryTurns))
	}
	if c.IsLocked {
		parts = append(parts, "locked")
	}
	return "(" + strings.Join(parts, "; ") + ")"
}

var cardImportCmd = &cobra.Command{
	Use:   "import <game> <dir>",
	Short: "Import markdown cards from a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGame(args[0], func(ctx context.Context, a *app.App, game types.Game) error {
			return importCards(ctx, a, game, args[1])
		})
	},
}

func importCards(ctx context.Context, a *app.App, game types.Game, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	set, err := storage.NewFileSystem(abs).LoadCards(".")
	if err != nil {
		return fmt.Errorf("failed to read cards: %w", err)
	}
	stored, err := a.DB.ImportCards(ctx, game.ID, set)
	if err != nil {
		return fmt.Errorf("failed to import cards: %w", err)
	}
	fmt.Println(styles.SuccessText.Render(fmt.Sprintf(
		"Imported %d cards: %d instruction, %d plot, %d world",
		stored.Len(), len(stored.Instructions), len(stored.Plots), len(stored.World),
	)))
	return nil
}

var cardDeleteCmd = &cobra.Command{
	Use:   "delete <game> <family> <card-id>",
	Short: "Delete a card",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		family := strings.ToLower(args[1])
		id, err := parseID("card", args[2])
		if err != nil {
			return err
		}
		return withGame(args[0], func(ctx context.Context, a *app.App, game types.Game) error {
			s, err := a.Inspect(ctx, game.ID)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := confirm(fmt.Sprintf("Delete %s card %d?", family, id), yes); err != nil {
				return err
			}
			switch family {
			case storage.FamilyInstruction:
				err = s.DeleteInstructionCard(ctx, id)
			case storage.FamilyPlot:
				err = s.DeletePlotCard(ctx, id)
			case storage.FamilyWorld:
				err = s.DeleteWorldCard(ctx, id)
			default:
				return fmt.Errorf("unknown card family %q", family)
			}
			if err != nil {
				return err
			}
			fmt.Println(styles.SuccessText.Render(fmt.Sprintf("Deleted %s card %d", family, id)))
			return nil
		})
	},
}

func init() {
	cardAddCmd.Flags().StringSliceP("trigger", "t", nil, "Trigger phrase for a world card (repeatable)")
	cardAddCmd.Flags().String("kind", string(types.KindWorld), "World card kind: main_hero, npc or world")
	cardAddCmd.Flags().Bool("locked", false, "Lock a world card against narrator edits")
	cardAddCmd.Flags().Bool("always", false, "Keep a world card always active")

	cardDeleteCmd.Flags().BoolP("yes", "y", false, "Skip confirmation")

	cardCmd.AddCommand(cardAddCmd, cardListCmd, cardImportCmd, cardDeleteCmd)
}
