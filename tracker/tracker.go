// Package tracker is the application layer: it loads a game's ledger from
// storage, applies one operation, and writes it back under the game's
// optimistic lock.  It also owns the player registry and the archive.
//
// Nothing here retries on a lock conflict.  An operation like "remove round
// 3" means something different once another writer has changed the game, so
// the conflict goes back to the caller.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ts4z/taidi/badinput"
	"github.com/ts4z/taidi/dep"
	"github.com/ts4z/taidi/ledger"
	"github.com/ts4z/taidi/model"
	"github.com/ts4z/taidi/state"
	"github.com/ts4z/taidi/stats"
	"github.com/ts4z/taidi/ts"
	"github.com/ts4z/taidi/varz"
)

var (
	gamesStarted  = varz.NewInt("gamesStarted")
	gamesFinished = varz.NewInt("gamesFinished")
	roundsAdded   = varz.NewInt("roundsAdded")
	roundsRemoved = varz.NewInt("roundsRemoved")
	recalcs       = varz.NewInt("recalcs")
)

// cacheControl is implemented by dbcache.GameStorage.  Archiving and
// resetting remove games without going through GameStorage, so a cache
// has to be told.
type cacheControl interface {
	Forget(id string)
	Purge()
}

type Service struct {
	store            state.Storage
	games            state.GameStorage
	clock            *ts.Clock
	defaultCardValue decimal.Decimal
}

// New wires a service.  games serves active games and may be a cache in
// front of store; nil means use store directly.
func New(store state.Storage, games state.GameStorage, clock *ts.Clock, defaultCardValue decimal.Decimal) *Service {
	if games == nil {
		games = store
	}
	return &Service{
		store:            dep.Required(store),
		games:            games,
		clock:            dep.Required(clock),
		defaultCardValue: defaultCardValue,
	}
}

func (s *Service) DefaultCardValue() decimal.Decimal {
	return s.defaultCardValue
}

// StartGame registers any new players and creates an empty game.  A zero
// cardValue means the configured default.  Names are matched to registered
// players ignoring case, and the registered spelling is used in the game.
func (s *Service) StartGame(ctx context.Context, names []string, cardValue decimal.Decimal) (string, error) {
	if cardValue.IsZero() {
		cardValue = s.defaultCardValue
	}
	// validate before registering anybody
	if _, err := ledger.New(names, cardValue, s.clock); err != nil {
		return "", err
	}

	canonical := make([]string, 0, len(names))
	for _, n := range names {
		p, err := s.AddPlayer(ctx, n)
		if err != nil {
			return "", err
		}
		canonical = append(canonical, p.Name)
	}
	l, err := ledger.New(canonical, cardValue, s.clock)
	if err != nil {
		return "", err
	}

	g := &model.Game{
		GameID:      uuid.NewString(),
		LastUpdated: s.clock.Now(),
		Snapshot:    l.ToSnapshot(),
	}
	if err := s.games.CreateGame(ctx, g); err != nil {
		return "", fmt.Errorf("creating game: %w", err)
	}
	gamesStarted.Add(1)
	log.Printf("started game %s with %s at %s/card", g.GameID, strings.Join(canonical, ", "), cardValue)
	return g.GameID, nil
}

func (s *Service) load(ctx context.Context, gameID string) (*model.Game, *ledger.Ledger, error) {
	g, err := s.games.FetchGame(ctx, gameID)
	if err != nil {
		return nil, nil, err
	}
	l, err := ledger.FromSnapshot(g.Snapshot, s.clock)
	if err != nil {
		return nil, nil, fmt.Errorf("game %s is corrupt: %w", gameID, err)
	}
	return g, l, nil
}

// LoadGame returns the game's ledger.  Changes made to it aren't saved;
// use the Service's operations for that.
func (s *Service) LoadGame(ctx context.Context, gameID string) (*ledger.Ledger, error) {
	_, l, err := s.load(ctx, gameID)
	return l, err
}

// update runs fn against the stored ledger and saves the result if fn
// reports a change.
func (s *Service) update(ctx context.Context, gameID string, fn func(l *ledger.Ledger) (bool, error)) (*ledger.Ledger, error) {
	g, l, err := s.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	changed, err := fn(l)
	if err != nil || !changed {
		return l, err
	}
	next := &model.Game{
		GameID:         g.GameID,
		OptimisticLock: g.OptimisticLock,
		LastUpdated:    s.clock.Now(),
		Snapshot:       l.ToSnapshot(),
	}
	if err := s.games.SaveGame(ctx, next); err != nil {
		if errors.Is(err, state.ErrConflict) {
			return nil, fmt.Errorf("game %s was changed by someone else; reload and try again: %w", gameID, err)
		}
		return nil, err
	}
	return l, nil
}

// seatedAs maps names typed in any case to the spelling the game uses.
// Names that match nobody are left alone for the ledger to reject.
func seatedAs(players []string, name string) string {
	for _, p := range players {
		if strings.EqualFold(p, strings.TrimSpace(name)) {
			return p
		}
	}
	return name
}

func canonicalRound(r model.Round, players []string) model.Round {
	out := model.Round{CardValue: r.CardValue}
	if r.CardCounts != nil {
		out.CardCounts = make(map[string]int, len(r.CardCounts))
		for name, n := range r.CardCounts {
			out.CardCounts[seatedAs(players, name)] = n
		}
	}
	if r.SpecialHands != nil {
		out.SpecialHands = make(map[string]int, len(r.SpecialHands))
		for name, n := range r.SpecialHands {
			out.SpecialHands[seatedAs(players, name)] += n
		}
	}
	if r.BaoPlayer != "" {
		out.BaoPlayer = seatedAs(players, r.BaoPlayer)
	}
	return out
}

// AddRound books a round and returns its number.  Player names in r may be
// in any letter case.
func (s *Service) AddRound(ctx context.Context, gameID string, r model.Round) (int, error) {
	var n int
	_, err := s.update(ctx, gameID, func(l *ledger.Ledger) (bool, error) {
		var err error
		n, err = l.AddRound(canonicalRound(r, l.Players()))
		return err == nil, err
	})
	if err != nil {
		return 0, err
	}
	roundsAdded.Add(1)
	return n, nil
}

// UndoLastRound reports false if the game has no rounds.
func (s *Service) UndoLastRound(ctx context.Context, gameID string) (bool, error) {
	var undone bool
	_, err := s.update(ctx, gameID, func(l *ledger.Ledger) (bool, error) {
		undone = l.UndoLastRound()
		return undone, nil
	})
	if undone && err == nil {
		roundsRemoved.Add(1)
	}
	return undone && err == nil, err
}

// RemoveRound deletes round n and renumbers the rest.  It reports false if
// there's no round n.
func (s *Service) RemoveRound(ctx context.Context, gameID string, n int) (bool, error) {
	var removed bool
	_, err := s.update(ctx, gameID, func(l *ledger.Ledger) (bool, error) {
		removed = l.RemoveRound(n)
		return removed, nil
	})
	if removed && err == nil {
		roundsRemoved.Add(1)
	}
	return removed && err == nil, err
}

func (s *Service) SetCardValue(ctx context.Context, gameID string, v decimal.Decimal) error {
	_, err := s.update(ctx, gameID, func(l *ledger.Ledger) (bool, error) {
		if l.CardValue().Equal(v) {
			return false, nil
		}
		return true, l.SetCardValue(v)
	})
	return err
}

// FinishGame archives the game, folds it into lifetime stats, and removes
// it from the active games.  A game with no rounds can't be finished; it
// can only be abandoned.
func (s *Service) FinishGame(ctx context.Context, gameID string) (*model.ArchiveEntry, error) {
	_, l, err := s.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	e, err := stats.NewArchiveEntry(l, gameID, uuid.NewString(), s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.AddArchivedGame(ctx, e, stats.Apply); err != nil {
		return nil, fmt.Errorf("archiving game %s: %w", gameID, err)
	}
	if cc, ok := s.games.(cacheControl); ok {
		cc.Forget(gameID)
	}
	gamesFinished.Add(1)
	log.Printf("finished game %s as archive %s after %d rounds", gameID, e.ArchiveID, e.RoundsPlayed)
	return e, nil
}

// AbandonGame drops a game without archiving it.
func (s *Service) AbandonGame(ctx context.Context, gameID string) error {
	if err := s.games.DeleteGame(ctx, gameID); err != nil {
		return err
	}
	log.Printf("abandoned game %s", gameID)
	return nil
}

func (s *Service) ListGames(ctx context.Context) ([]*model.GameSlug, error) {
	return s.games.FetchGameSlugs(ctx)
}

// AddPlayer registers name, or returns the existing player if the name is
// already taken in any letter case.
func (s *Service) AddPlayer(ctx context.Context, name string) (*model.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, badinput.Errorf("player names can't be blank")
	}
	p, err := s.store.FetchPlayerByName(ctx, name)
	if err == nil {
		return p, nil
	} else if !errors.Is(err, state.ErrNotFound) {
		return nil, err
	}

	p = &model.Player{PlayerID: uuid.NewString(), Name: name, CreatedAt: s.clock.Now()}
	if err := s.store.CreatePlayer(ctx, p); err != nil {
		if errors.Is(err, state.ErrConflict) {
			// lost a race with another registration of the same name
			return s.store.FetchPlayerByName(ctx, name)
		}
		return nil, err
	}
	log.Printf("registered player %q", p.Name)
	return s.catchUpStats(ctx, p)
}

// catchUpStats gives a newly registered player credit for archived games
// played under that name before, as happens after a player is deleted and
// registered again.  Stats stay what a full rebuild would produce.
func (s *Service) catchUpStats(ctx context.Context, p *model.Player) (*model.Player, error) {
	entries, err := s.store.FetchArchivedGames(ctx)
	if err != nil {
		return nil, err
	}
	k := model.NameKey(p.Name)
	for _, e := range entries {
		for _, name := range e.Players {
			if model.NameKey(name) == k {
				if err := s.RecalculateAllStats(ctx); err != nil {
					return nil, err
				}
				return s.store.FetchPlayerByName(ctx, p.Name)
			}
		}
	}
	return p, nil
}

// Players lists registered players in standings order.
func (s *Service) Players(ctx context.Context) ([]*model.Player, error) {
	players, err := s.store.FetchPlayers(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*model.Player, len(players))
	all := make(map[string]*model.PlayerStats, len(players))
	for _, p := range players {
		byName[p.Name] = p
		st := p.Stats
		st.Name = p.Name
		all[p.Name] = &st
	}
	out := make([]*model.Player, 0, len(players))
	for _, st := range stats.Standings(all) {
		out = append(out, byName[st.Name])
	}
	return out, nil
}

// DeletePlayer unregisters a player.  Players seated in an active game
// can't be deleted.  Their archived games are kept, and count again if the
// name is registered again.
func (s *Service) DeletePlayer(ctx context.Context, name string) error {
	p, err := s.store.FetchPlayerByName(ctx, name)
	if err != nil {
		return err
	}
	slugs, err := s.games.FetchGameSlugs(ctx)
	if err != nil {
		return err
	}
	for _, g := range slugs {
		for _, seated := range g.Players {
			if strings.EqualFold(seated, p.Name) {
				return badinput.Errorf("%s is playing in active game %s", p.Name, g.GameID)
			}
		}
	}
	if err := s.store.DeletePlayer(ctx, p.PlayerID); err != nil {
		return err
	}
	log.Printf("deleted player %q", p.Name)
	return nil
}

// PlayerGameHistory lists every archived game name played in, newest
// first.
func (s *Service) PlayerGameHistory(ctx context.Context, name string) ([]model.PlayerGame, error) {
	entries, err := s.store.FetchArchivedGames(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.PlayerGame
	for _, e := range entries {
		for player, net := range e.FinalTotals {
			if model.NameKey(player) == model.NameKey(name) {
				out = append(out, model.PlayerGame{
					When:      e.CreatedAt,
					Rounds:    e.RoundsPlayed,
					CardValue: e.CardValue,
					Net:       net,
				})
				break
			}
		}
	}
	return out, nil
}

// ArchivedGames lists the archive newest first.  A positive within keeps
// only games archived that recently.
func (s *Service) ArchivedGames(ctx context.Context, within time.Duration) ([]*model.ArchiveEntry, error) {
	entries, err := s.store.FetchArchivedGames(ctx)
	if err != nil || within <= 0 {
		return entries, err
	}
	cutoff := s.clock.Now().Add(-within)
	var out []*model.ArchiveEntry
	for _, e := range entries {
		if !e.CreatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

// DeleteArchivedGame removes one archived game and rebuilds lifetime stats
// without it.
func (s *Service) DeleteArchivedGame(ctx context.Context, archiveID string) error {
	if err := s.store.DeleteArchivedGame(ctx, archiveID); err != nil {
		return err
	}
	log.Printf("deleted archived game %s", archiveID)
	return s.RecalculateAllStats(ctx)
}

// ClearArchivedGames empties the archive, which zeroes every player's
// stats.  Players stay registered.
func (s *Service) ClearArchivedGames(ctx context.Context) error {
	if err := s.store.ClearArchivedGames(ctx); err != nil {
		return err
	}
	log.Printf("cleared archive")
	return s.RecalculateAllStats(ctx)
}

// RecalculateAllStats rebuilds every player's stats from the archive.
// It is safe to run at any time; the result depends only on the archive.
func (s *Service) RecalculateAllStats(ctx context.Context) error {
	entries, err := s.store.FetchArchivedGames(ctx)
	if err != nil {
		return err
	}
	if err := s.store.ReplaceAllPlayerStats(ctx, stats.Recalculate(entries), s.clock.Now()); err != nil {
		return fmt.Errorf("replacing player stats: %w", err)
	}
	recalcs.Add(1)
	return nil
}

// FactoryReset deletes all players, archived games, and active games.
func (s *Service) FactoryReset(ctx context.Context) error {
	if err := s.store.FactoryReset(ctx); err != nil {
		return err
	}
	if cc, ok := s.games.(cacheControl); ok {
		cc.Purge()
	}
	log.Printf("factory reset")
	return nil
}
