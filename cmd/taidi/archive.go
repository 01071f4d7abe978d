package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"maze.io/x/duration"

	"github.com/ts4z/taidi/model"
	"github.com/ts4z/taidi/textutil"
)

var within time.Duration

func listArchive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	entries, err := svc.ArchivedGames(ctx, within)
	if err != nil {
		return err
	}
	data := pterm.TableData{{"Archive", "When", "Rounds", "Card Value", "Results"}}
	for _, e := range entries {
		var results []string
		for _, p := range e.WinnerOrder {
			results = append(results, fmt.Sprintf("%s %s", p, textutil.FormatSigned(e.FinalTotals[p])))
		}
		data = append(data, []string{
			e.ArchiveID,
			e.CreatedAt.Format(model.DateTimeFormat),
			strconv.Itoa(e.RoundsPlayed),
			textutil.FormatMoney(e.CardValue),
			strings.Join(results, ", "),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func deleteArchived(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	if err := svc.DeleteArchivedGame(ctx, args[0]); err != nil {
		return err
	}
	pterm.Success.Printfln("Archived game %s deleted; player stats recalculated", args[0])
	return nil
}

func clearArchive(cmd *cobra.Command, args []string) error {
	if err := requirePassword(); err != nil {
		return err
	}
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	if err := svc.ClearArchivedGames(ctx); err != nil {
		return err
	}
	pterm.Success.Println("Archive cleared; player stats reset")
	return nil
}

func recalcStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	if err := svc.RecalculateAllStats(ctx); err != nil {
		return err
	}
	pterm.Success.Println("Player stats rebuilt from the archive")
	return nil
}

func factoryReset(cmd *cobra.Command, args []string) error {
	if err := requirePassword(); err != nil {
		return err
	}
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	if err := svc.FactoryReset(ctx); err != nil {
		return err
	}
	pterm.Success.Println("All players, archived games, and active games deleted")
	return nil
}

func archiveCommand() *cobra.Command {
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Look at or prune finished games",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived games, newest first",
		Args:  cobra.NoArgs,
		RunE:  listArchive,
	}
	listCmd.Flags().Func("within", "Only games archived this recently (e.g. 30d, 2w, 12h)", func(s string) error {
		d, err := duration.ParseDuration(s)
		if err != nil {
			return err
		}
		within = time.Duration(d)
		return nil
	})

	archiveCmd.AddCommand(
		listCmd,
		&cobra.Command{
			Use:   "delete [archive-id]",
			Short: "Delete one archived game and recalculate stats",
			Args:  cobra.ExactArgs(1),
			RunE:  deleteArchived,
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every archived game (password required)",
			Args:  cobra.NoArgs,
			RunE:  clearArchive,
		},
	)
	return archiveCmd
}

func statsCommand() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Lifetime statistics",
	}
	statsCmd.AddCommand(&cobra.Command{
		Use:   "recalc",
		Short: "Rebuild every player's stats from the archive",
		Args:  cobra.NoArgs,
		RunE:  recalcStats,
	})
	return statsCmd
}
