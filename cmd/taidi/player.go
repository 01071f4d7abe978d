package main

import (
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ts4z/taidi/model"
	"github.com/ts4z/taidi/textutil"
)

func addPlayers(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	for _, a := range args {
		for _, name := range textutil.SplitNames(a) {
			p, err := svc.AddPlayer(ctx, name)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("%s is registered", p.Name)
		}
	}
	return nil
}

func listPlayers(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	players, err := svc.Players(ctx)
	if err != nil {
		return err
	}
	data := pterm.TableData{{"Player", "Games", "Total", "Avg/Game", "W", "L", "T", "Last Played"}}
	for _, p := range players {
		last := "-"
		if p.Stats.LastPlayed != nil {
			last = p.Stats.LastPlayed.Format(model.DateTimeFormat)
		}
		data = append(data, []string{
			p.Name,
			strconv.Itoa(p.Stats.GamesPlayed),
			textutil.FormatSigned(p.Stats.TotalNet),
			textutil.FormatSigned(p.Stats.AvgPerGame),
			strconv.Itoa(p.Stats.Wins),
			strconv.Itoa(p.Stats.Losses),
			strconv.Itoa(p.Stats.Ties),
			last,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func deletePlayer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	if err := svc.DeletePlayer(ctx, args[0]); err != nil {
		return err
	}
	pterm.Success.Printfln("%s deleted; their archived games are kept", args[0])
	return nil
}

func playerHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	games, err := svc.PlayerGameHistory(ctx, args[0])
	if err != nil {
		return err
	}
	if len(games) == 0 {
		pterm.Info.Printfln("No archived games for %s", args[0])
		return nil
	}
	data := pterm.TableData{{"When", "Rounds", "Card Value", "Net"}}
	for _, g := range games {
		data = append(data, []string{
			g.When.Format(model.DateTimeFormat),
			strconv.Itoa(g.Rounds),
			textutil.FormatMoney(g.CardValue),
			textutil.FormatSigned(g.Net),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func playerCommand() *cobra.Command {
	playerCmd := &cobra.Command{
		Use:   "player",
		Short: "Manage players",
	}
	playerCmd.AddCommand(
		&cobra.Command{
			Use:   "add [name]...",
			Short: "Register players",
			Args:  cobra.MinimumNArgs(1),
			RunE:  addPlayers,
		},
		&cobra.Command{
			Use:   "list",
			Short: "Show lifetime standings",
			Args:  cobra.NoArgs,
			RunE:  listPlayers,
		},
		&cobra.Command{
			Use:   "delete [name]",
			Short: "Unregister a player who isn't in an active game",
			Args:  cobra.ExactArgs(1),
			RunE:  deletePlayer,
		},
		&cobra.Command{
			Use:   "history [name]",
			Short: "Show a player's archived games, newest first",
			Args:  cobra.ExactArgs(1),
			RunE:  playerHistory,
		},
	)
	return playerCmd
}
