// Package stats turns finished games into archive entries and archive
// entries into lifetime player statistics.
//
// Lifetime stats are a pure function of the archive.  Recalculate rebuilds
// them from nothing, which is what happens after an archived game is
// deleted; Apply folds in one new game, which is what happens when a game
// finishes.  Both give the same answer.
package stats

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ts4z/taidi/badinput"
	"github.com/ts4z/taidi/ledger"
	"github.com/ts4z/taidi/model"
)

const avgPlaces = 4

// NewArchiveEntry freezes a ledger's results.  Games with no rounds aren't
// worth archiving and are refused.
func NewArchiveEntry(l *ledger.Ledger, gameID, archiveID string, createdAt time.Time) (*model.ArchiveEntry, error) {
	if l.RoundCount() == 0 {
		return nil, badinput.Errorf("game %s has no rounds to archive", gameID)
	}

	summary := l.Summary()
	e := &model.ArchiveEntry{
		ArchiveID:    archiveID,
		GameID:       gameID,
		CreatedAt:    createdAt,
		Players:      l.Players(),
		RoundsPlayed: l.RoundCount(),
		CardValue:    l.CardValue(),
		FinalTotals:  make(model.Payouts, len(summary)),
		RoundHistory: make(map[string][]decimal.Decimal, len(summary)),
	}
	for _, row := range summary {
		e.FinalTotals[row.Player] = row.Total
		e.RoundHistory[row.Player] = row.Rounds
		e.WinnerOrder = append(e.WinnerOrder, row.Player)
	}
	// stable, so ties stay in seating order
	sort.SliceStable(e.WinnerOrder, func(i, j int) bool {
		return e.FinalTotals[e.WinnerOrder[i]].GreaterThan(e.FinalTotals[e.WinnerOrder[j]])
	})
	return e, nil
}

// Apply folds one archived game into acc, keyed by model.NameKey.  The
// same player may be spelled differently in different games; the spelling
// from the game applied last wins.
func Apply(acc map[string]*model.PlayerStats, e *model.ArchiveEntry) {
	for name, net := range e.FinalTotals {
		k := model.NameKey(name)
		ps, ok := acc[k]
		if !ok {
			ps = &model.PlayerStats{}
			acc[k] = ps
		}
		ps.Name = name
		ps.GamesPlayed++
		ps.TotalNet = ps.TotalNet.Add(net)
		ps.AvgPerGame = ps.TotalNet.DivRound(decimal.NewFromInt(int64(ps.GamesPlayed)), avgPlaces)

		// games archived without round history count toward totals only
		for _, v := range e.RoundHistory[name] {
			switch v.Sign() {
			case 1:
				ps.Wins++
			case -1:
				ps.Losses++
			default:
				ps.Ties++
			}
		}

		when := e.CreatedAt
		ps.LastPlayed = &when
	}
}

// Recalculate rebuilds lifetime stats from the whole archive.  Entries are
// replayed oldest first (ties broken by archive ID), so the input order
// doesn't matter.
func Recalculate(entries []*model.ArchiveEntry) map[string]*model.PlayerStats {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b *model.ArchiveEntry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ArchiveID, b.ArchiveID)
	})

	acc := map[string]*model.PlayerStats{}
	for _, e := range sorted {
		Apply(acc, e)
	}
	return acc
}

// Standings orders players for the leaderboard: most money first, then
// most games, then name.
func Standings(all map[string]*model.PlayerStats) []*model.PlayerStats {
	out := make([]*model.PlayerStats, 0, len(all))
	for _, ps := range all {
		out = append(out, ps)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if c := a.TotalNet.Cmp(b.TotalNet); c != 0 {
			return c > 0
		}
		if a.GamesPlayed != b.GamesPlayed {
			return a.GamesPlayed > b.GamesPlayed
		}
		return a.Name < b.Name
	})
	return out
}
