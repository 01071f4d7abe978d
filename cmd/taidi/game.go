package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ts4z/taidi/badinput"
	"github.com/ts4z/taidi/ledger"
	"github.com/ts4z/taidi/model"
	"github.com/ts4z/taidi/textutil"
	"github.com/ts4z/taidi/tracker"
)

var (
	cardValueFlag string
	specialFlag   string
	baoFlag       string
	showLogFlag   bool
)

// resolveGame turns --game into a game ID.  A unique prefix is enough, and
// with no --game at all the only active game is used.
func resolveGame(ctx context.Context, svc *tracker.Service) (string, error) {
	slugs, err := svc.ListGames(ctx)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, g := range slugs {
		if gameID == "" || strings.HasPrefix(g.GameID, gameID) {
			matches = append(matches, g.GameID)
		}
	}
	switch {
	case len(matches) == 1:
		return matches[0], nil
	case len(matches) == 0 && gameID == "":
		return "", errors.New("no active games; start one with `taidi game start`")
	case len(matches) == 0:
		return "", fmt.Errorf("no active game matches %q", gameID)
	case gameID == "":
		return "", fmt.Errorf("%d active games; pick one with --game", len(matches))
	default:
		return "", fmt.Errorf("%q matches %d games; use more of the ID", gameID, len(matches))
	}
}

func parseCardValue(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(strings.TrimPrefix(s, "$"))
	if err != nil {
		return decimal.Zero, badinput.Errorf("can't parse card value %q", s)
	}
	return v, nil
}

func startGame(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	v, err := parseCardValue(cardValueFlag)
	if err != nil {
		return err
	}
	var names []string
	for _, a := range args {
		names = append(names, textutil.SplitNames(a)...)
	}
	id, err := svc.StartGame(ctx, names, v)
	if err != nil {
		return fmt.Errorf("starting game: %w", err)
	}
	pterm.Success.Printfln("Started game %s", id)
	return showLedger(ctx, svc, id)
}

func showGame(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	id, err := resolveGame(ctx, svc)
	if err != nil {
		return err
	}
	return showLedger(ctx, svc, id)
}

func showLedger(ctx context.Context, svc *tracker.Service, id string) error {
	l, err := svc.LoadGame(ctx, id)
	if err != nil {
		return err
	}
	pterm.DefaultSection.Printfln("Game %s: %d rounds, %s/card", id, l.RoundCount(), textutil.FormatMoney(l.CardValue()))
	if err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(summaryTable(l)).Render(); err != nil {
		return err
	}
	if showLogFlag {
		return pterm.DefaultTable.WithHasHeader().WithData(transactionTable(l.Transactions())).Render()
	}
	return nil
}

// summaryTable is the earnings table: one row per player, one column per
// round, and the total.
func summaryTable(l *ledger.Ledger) pterm.TableData {
	header := []string{"Player"}
	for i := 1; i <= l.RoundCount(); i++ {
		header = append(header, "R"+strconv.Itoa(i))
	}
	header = append(header, "Total")
	data := pterm.TableData{header}
	for _, row := range l.Summary() {
		line := []string{row.Player}
		for _, v := range row.Rounds {
			line = append(line, textutil.FormatSigned(v))
		}
		line = append(line, pterm.Bold.Sprint(textutil.FormatSigned(row.Total)))
		data = append(data, line)
	}
	return data
}

func transactionTable(txs []model.Transaction) pterm.TableData {
	data := pterm.TableData{{"Round", "Time", "Value", "Cards", "Special", "Bao"}}
	for _, tx := range txs {
		data = append(data, []string{
			strconv.Itoa(tx.Round),
			tx.Timestamp.Format(model.DateTimeFormat),
			textutil.FormatMoney(tx.CardValue),
			formatCounts(tx.CardCounts),
			formatCounts(tx.SpecialHands),
			tx.BaoPlayer,
		})
	}
	return data
}

func formatCounts(m map[string]int) string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", n, m[n]))
	}
	return strings.Join(parts, ",")
}

func addRound(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	id, err := resolveGame(ctx, svc)
	if err != nil {
		return err
	}

	counts, err := textutil.ParseCounts(strings.Join(args, ","))
	if err != nil {
		return badinput.New(err)
	}
	special, err := textutil.ParseCounts(specialFlag)
	if err != nil {
		return badinput.New(err)
	}
	v, err := parseCardValue(cardValueFlag)
	if err != nil {
		return err
	}

	n, err := svc.AddRound(ctx, id, model.Round{
		CardCounts:   counts,
		SpecialHands: special,
		BaoPlayer:    strings.TrimSpace(baoFlag),
		CardValue:    v,
	})
	if err != nil {
		return fmt.Errorf("adding round: %w", err)
	}
	pterm.Success.Printfln("Round %d recorded", n)
	return showLedger(ctx, svc, id)
}

func undoRound(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	id, err := resolveGame(ctx, svc)
	if err != nil {
		return err
	}
	undone, err := svc.UndoLastRound(ctx, id)
	if err != nil {
		return err
	}
	if !undone {
		pterm.Warning.Println("Nothing to undo")
		return nil
	}
	pterm.Success.Println("Last round undone")
	return showLedger(ctx, svc, id)
}

func removeRound(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return badinput.Errorf("round number %q isn't a number", args[0])
	}
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	id, err := resolveGame(ctx, svc)
	if err != nil {
		return err
	}
	removed, err := svc.RemoveRound(ctx, id, n)
	if err != nil {
		return err
	}
	if !removed {
		return badinput.Errorf("there's no round %d", n)
	}
	pterm.Success.Printfln("Round %d removed; later rounds renumbered", n)
	return showLedger(ctx, svc, id)
}

func setValue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	v, err := parseCardValue(args[0])
	if err != nil {
		return err
	}
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	id, err := resolveGame(ctx, svc)
	if err != nil {
		return err
	}
	if err := svc.SetCardValue(ctx, id, v); err != nil {
		return err
	}
	pterm.Success.Printfln("Card value is now %s; rounds already played keep theirs", textutil.FormatMoney(v))
	return nil
}

func finishGame(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	id, err := resolveGame(ctx, svc)
	if err != nil {
		return err
	}
	e, err := svc.FinishGame(ctx, id)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Game archived as %s", e.ArchiveID)
	data := pterm.TableData{{"Place", "Player", "Net"}}
	for i, p := range e.WinnerOrder {
		data = append(data, []string{textutil.FormatPlace(i + 1), p, textutil.FormatSigned(e.FinalTotals[p])})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func abandonGame(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	id, err := resolveGame(ctx, svc)
	if err != nil {
		return err
	}
	if err := svc.AbandonGame(ctx, id); err != nil {
		return err
	}
	pterm.Success.Printfln("Game %s abandoned", id)
	return nil
}

func listGames(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	slugs, err := svc.ListGames(ctx)
	if err != nil {
		return err
	}
	data := pterm.TableData{{"Game", "Players", "Rounds", "Last updated"}}
	for _, g := range slugs {
		data = append(data, []string{
			g.GameID,
			strings.Join(g.Players, ", "),
			strconv.Itoa(g.Rounds),
			g.LastUpdated.Format(model.DateTimeFormat),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func gameCommand() *cobra.Command {
	gameCmd := &cobra.Command{
		Use:   "game",
		Short: "Play a game",
	}
	gameCmd.PersistentFlags().StringVarP(&gameID, "game", "g", "", "Game ID or unique prefix (default: the only active game)")

	startCmd := &cobra.Command{
		Use:   "start [player]...",
		Short: "Start a game with the named players",
		Args:  cobra.MinimumNArgs(1),
		RunE:  startGame,
	}
	startCmd.Flags().StringVar(&cardValueFlag, "value", "", "Value per card (default from config)")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the earnings table",
		Args:  cobra.NoArgs,
		RunE:  showGame,
	}
	showCmd.Flags().BoolVar(&showLogFlag, "log", false, "Also show every round's inputs")

	roundCmd := &cobra.Command{
		Use:     "round name=cards,...",
		Short:   "Record a round: cards left in each player's hand",
		Example: "  taidi game round Ann=0,Ben=5,Cat=8,Dan=13 --special Cat=1 --bao Ben",
		Args:    cobra.MinimumNArgs(1),
		RunE:    addRound,
	}
	roundCmd.Flags().StringVar(&specialFlag, "special", "", "Special hands declared, as name=count,...")
	roundCmd.Flags().StringVar(&baoFlag, "bao", "", "Player who pays everyone's card losses this round")
	roundCmd.Flags().StringVar(&cardValueFlag, "value", "", "Value per card for this round only")

	gameCmd.AddCommand(
		startCmd,
		showCmd,
		roundCmd,
		&cobra.Command{
			Use:   "undo",
			Short: "Undo the last round",
			Args:  cobra.NoArgs,
			RunE:  undoRound,
		},
		&cobra.Command{
			Use:   "remove [round]",
			Short: "Remove one round and renumber the rest",
			Args:  cobra.ExactArgs(1),
			RunE:  removeRound,
		},
		&cobra.Command{
			Use:   "value [amount]",
			Short: "Change the card value for future rounds",
			Args:  cobra.ExactArgs(1),
			RunE:  setValue,
		},
		&cobra.Command{
			Use:   "finish",
			Short: "Archive the game and update player stats",
			Args:  cobra.NoArgs,
			RunE:  finishGame,
		},
		&cobra.Command{
			Use:   "abandon",
			Short: "Throw the game away without archiving it",
			Args:  cobra.NoArgs,
			RunE:  abandonGame,
		},
		&cobra.Command{
			Use:   "list",
			Short: "List active games",
			Args:  cobra.NoArgs,
			RunE:  listGames,
		},
	)
	return gameCmd
}
