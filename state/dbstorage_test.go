package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ts4z/taidi/dbutil"
	"github.com/ts4z/taidi/model"
)

var t0 = time.Date(2025, 3, 1, 20, 0, 0, 0, time.Local)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestStorage(t *testing.T) *DBStorage {
	t.Helper()
	db, err := dbutil.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() returned error: %v", err)
	}
	s, err := NewDBStorage(context.Background(), db)
	if err != nil {
		db.Close()
		t.Fatalf("NewDBStorage() returned error: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func testGame(id string, rounds int) *model.Game {
	snap := &model.Snapshot{
		Players:   []string{"Ann", "Ben"},
		Balances:  model.Payouts{"Ann": decimal.Zero, "Ben": decimal.Zero},
		History:   map[string][]decimal.Decimal{"Ann": nil, "Ben": nil},
		RoundNum:  rounds + 1,
		CardValue: d("0.10"),
	}
	for i := 0; i < rounds; i++ {
		snap.TxLog = append(snap.TxLog, model.Transaction{Round: i + 1})
	}
	return &model.Game{GameID: id, LastUpdated: t0, Snapshot: snap}
}

func TestGameLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	g := testGame("g1", 0)
	if err := s.CreateGame(ctx, g); err != nil {
		t.Fatalf("CreateGame() returned error: %v", err)
	}
	if g.OptimisticLock != 1 {
		t.Errorf("lock after create = %d, want 1", g.OptimisticLock)
	}
	if err := s.CreateGame(ctx, testGame("g1", 0)); !errors.Is(err, ErrConflict) {
		t.Errorf("second CreateGame(g1) error = %v, want ErrConflict", err)
	}

	got, err := s.FetchGame(ctx, "g1")
	if err != nil {
		t.Fatalf("FetchGame() returned error: %v", err)
	}
	if !got.LastUpdated.Equal(t0) || got.OptimisticLock != 1 {
		t.Errorf("fetched game = %+v", got)
	}
	if !got.Snapshot.CardValue.Equal(d("0.10")) || len(got.Snapshot.Players) != 2 {
		t.Errorf("fetched snapshot = %+v", got.Snapshot)
	}

	got.Snapshot.TxLog = append(got.Snapshot.TxLog, model.Transaction{Round: 1})
	got.Snapshot.RoundNum = 2
	got.LastUpdated = t0.Add(time.Minute)
	if err := s.SaveGame(ctx, got); err != nil {
		t.Fatalf("SaveGame() returned error: %v", err)
	}
	if got.OptimisticLock != 2 {
		t.Errorf("lock after save = %d, want 2", got.OptimisticLock)
	}

	// g still holds version 1
	if err := s.SaveGame(ctx, g); !errors.Is(err, ErrConflict) {
		t.Errorf("stale SaveGame() error = %v, want ErrConflict", err)
	}

	slugs, err := s.FetchGameSlugs(ctx)
	if err != nil {
		t.Fatalf("FetchGameSlugs() returned error: %v", err)
	}
	if len(slugs) != 1 || slugs[0].Rounds != 1 || slugs[0].GameID != "g1" {
		t.Errorf("slugs = %+v", slugs)
	}

	if err := s.DeleteGame(ctx, "g1"); err != nil {
		t.Fatalf("DeleteGame() returned error: %v", err)
	}
	if _, err := s.FetchGame(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FetchGame after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteGame(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteGame error = %v, want ErrNotFound", err)
	}
	if err := s.SaveGame(ctx, got); !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveGame of deleted game error = %v, want ErrNotFound", err)
	}
}

func TestFetchGameSlugsOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	for i, id := range []string{"old", "new", "mid"} {
		g := testGame(id, i)
		g.LastUpdated = t0.Add(map[string]time.Duration{"old": 0, "mid": time.Hour, "new": 2 * time.Hour}[id])
		if err := s.CreateGame(ctx, g); err != nil {
			t.Fatal(err)
		}
	}
	slugs, err := s.FetchGameSlugs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, sl := range slugs {
		ids = append(ids, sl.GameID)
	}
	if len(ids) != 3 || ids[0] != "new" || ids[1] != "mid" || ids[2] != "old" {
		t.Errorf("slug order = %v, want [new mid old]", ids)
	}
}

func TestPlayers(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	p := &model.Player{PlayerID: "p1", Name: "  Ann ", CreatedAt: t0}
	if err := s.CreatePlayer(ctx, p); err != nil {
		t.Fatalf("CreatePlayer() returned error: %v", err)
	}
	if p.Name != "Ann" {
		t.Errorf("Name = %q, want trimmed", p.Name)
	}
	if err := s.CreatePlayer(ctx, &model.Player{PlayerID: "p2", Name: "ANN", CreatedAt: t0}); !errors.Is(err, ErrConflict) {
		t.Errorf("CreatePlayer(ANN) error = %v, want ErrConflict", err)
	}
	if err := s.CreatePlayer(ctx, &model.Player{PlayerID: "p3", Name: " ", CreatedAt: t0}); err == nil {
		t.Errorf("CreatePlayer(blank) succeeded")
	}

	got, err := s.FetchPlayerByName(ctx, "aNN")
	if err != nil {
		t.Fatalf("FetchPlayerByName() returned error: %v", err)
	}
	if got.PlayerID != "p1" || got.Name != "Ann" || !got.CreatedAt.Equal(t0) {
		t.Errorf("player = %+v", got)
	}
	if got.Stats.GamesPlayed != 0 || !got.Stats.TotalNet.IsZero() || got.Stats.LastPlayed != nil {
		t.Errorf("new player stats = %+v", got.Stats)
	}

	if _, err := s.FetchPlayerByName(ctx, "Zed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FetchPlayerByName(Zed) error = %v, want ErrNotFound", err)
	}

	if err := s.CreatePlayer(ctx, &model.Player{PlayerID: "p4", Name: "ben", CreatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	all, err := s.FetchPlayers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Name != "Ann" || all[1].Name != "ben" {
		t.Errorf("FetchPlayers = %+v", all)
	}

	if err := s.DeletePlayer(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePlayer(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeletePlayer error = %v, want ErrNotFound", err)
	}
	if err := s.ClearPlayers(ctx); err != nil {
		t.Fatal(err)
	}
	if all, _ := s.FetchPlayers(ctx); len(all) != 0 {
		t.Errorf("players left after clear: %+v", all)
	}
}

func archiveEntry(archiveID, gameID string, at time.Time) *model.ArchiveEntry {
	return &model.ArchiveEntry{
		ArchiveID:    archiveID,
		GameID:       gameID,
		CreatedAt:    at,
		Players:      []string{"Ann", "Ben"},
		RoundsPlayed: 1,
		CardValue:    d("0.10"),
		FinalTotals:  model.Payouts{"Ann": d("1.20"), "Ben": d("-1.20")},
		WinnerOrder:  []string{"Ann", "Ben"},
		RoundHistory: map[string][]decimal.Decimal{"Ann": {d("1.20")}, "Ben": {d("-1.20")}},
	}
}

// countGames is a stand-in fold that only counts games and net.
func countGames(acc map[string]*model.PlayerStats, e *model.ArchiveEntry) {
	for name, net := range e.FinalTotals {
		ps := acc[model.NameKey(name)]
		ps.GamesPlayed++
		ps.TotalNet = ps.TotalNet.Add(net)
		when := e.CreatedAt
		ps.LastPlayed = &when
	}
}

// archiveGame archives e the way a finished game is: its active game exists
// first.
func archiveGame(t *testing.T, s *DBStorage, e *model.ArchiveEntry) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateGame(ctx, testGame(e.GameID, e.RoundsPlayed)); err != nil {
		t.Fatalf("CreateGame(%s) returned error: %v", e.GameID, err)
	}
	if err := s.AddArchivedGame(ctx, e, countGames); err != nil {
		t.Fatalf("AddArchivedGame(%s) returned error: %v", e.ArchiveID, err)
	}
}

func TestAddArchivedGame(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	if err := s.CreatePlayer(ctx, &model.Player{PlayerID: "p1", Name: "Ann", CreatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateGame(ctx, testGame("g1", 1)); err != nil {
		t.Fatal(err)
	}

	if err := s.AddArchivedGame(ctx, archiveEntry("a1", "g1", t0.Add(time.Hour)), countGames); err != nil {
		t.Fatalf("AddArchivedGame() returned error: %v", err)
	}
	if _, err := s.FetchGame(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("active game still present after archiving: %v", err)
	}

	err := s.AddArchivedGame(ctx, archiveEntry("a2", "g1", t0.Add(2*time.Hour)), countGames)
	if !errors.Is(err, ErrAlreadyArchived) {
		t.Errorf("archiving g1 twice error = %v, want ErrAlreadyArchived", err)
	}

	ann, err := s.FetchPlayerByName(ctx, "Ann")
	if err != nil {
		t.Fatal(err)
	}
	if ann.Stats.GamesPlayed != 1 || !ann.Stats.TotalNet.Equal(d("1.20")) {
		t.Errorf("Ann stats = %+v, want one game at 1.20", ann.Stats)
	}
	if ann.Stats.LastPlayed == nil || !ann.Stats.LastPlayed.Equal(t0.Add(time.Hour)) {
		t.Errorf("Ann last played = %v", ann.Stats.LastPlayed)
	}
	// Ben was never registered; archiving registers the name.
	ben, err := s.FetchPlayerByName(ctx, "Ben")
	if err != nil {
		t.Fatalf("Ben not created by archiving: %v", err)
	}
	if !ben.Stats.TotalNet.Equal(d("-1.20")) || ben.PlayerID == "" {
		t.Errorf("Ben = %+v", ben)
	}

	e, err := s.FetchArchivedGame(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if e.GameID != "g1" || !e.CreatedAt.Equal(t0.Add(time.Hour)) || !e.FinalTotals["Ben"].Equal(d("-1.20")) {
		t.Errorf("archive entry = %+v", e)
	}
	if len(e.RoundHistory["Ann"]) != 1 {
		t.Errorf("round history lost: %+v", e.RoundHistory)
	}
	if _, err := s.FetchArchivedGame(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FetchArchivedGame(nope) error = %v, want ErrNotFound", err)
	}
}

func TestAddArchivedGameRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	bad := func(acc map[string]*model.PlayerStats, e *model.ArchiveEntry) {
		acc["Stranger"] = &model.PlayerStats{Name: "Stranger", GamesPlayed: 1}
	}
	if err := s.CreateGame(ctx, testGame("g1", 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddArchivedGame(ctx, archiveEntry("a1", "g1", t0), bad); err == nil {
		t.Fatalf("AddArchivedGame with stray stats succeeded")
	}
	if _, err := s.FetchGame(ctx, "g1"); err != nil {
		t.Errorf("active game lost by failed archive: %v", err)
	}
	if all, _ := s.FetchArchivedGames(ctx); len(all) != 0 {
		t.Errorf("archive kept %d entries after failed add", len(all))
	}
	if all, _ := s.FetchPlayers(ctx); len(all) != 0 {
		t.Errorf("players kept after failed add: %+v", all)
	}
}

func TestAddArchivedGameNeedsActiveGame(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	err := s.AddArchivedGame(ctx, archiveEntry("a1", "g1", t0), countGames)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("archiving a game that isn't active: error = %v, want ErrNotFound", err)
	}
	if all, _ := s.FetchArchivedGames(ctx); len(all) != 0 {
		t.Errorf("archive kept %d entries for a vanished game", len(all))
	}
	if all, _ := s.FetchPlayers(ctx); len(all) != 0 {
		t.Errorf("players created for a vanished game: %+v", all)
	}
}

func TestReplaceAllPlayerStatsUsesEntrySpelling(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	err := s.ReplaceAllPlayerStats(ctx, map[string]*model.PlayerStats{
		"alice": {Name: "ALICE", GamesPlayed: 2, TotalNet: d("14"), AvgPerGame: d("7")},
	}, t0)
	if err != nil {
		t.Fatalf("ReplaceAllPlayerStats() returned error: %v", err)
	}
	all, err := s.FetchPlayers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Name != "ALICE" || all[0].Stats.GamesPlayed != 2 {
		t.Errorf("players = %+v, want ALICE with 2 games", all)
	}
}

func TestArchiveOrderAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	for i, id := range []string{"a1", "a2", "a3"} {
		archiveGame(t, s, archiveEntry(id, "g"+id, t0.Add(time.Duration(i)*time.Hour)))
	}
	all, err := s.FetchArchivedGames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ArchiveID != "a3" || all[2].ArchiveID != "a1" {
		t.Errorf("archive not newest first: %v", all)
	}

	if err := s.DeleteArchivedGame(ctx, "a2"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteArchivedGame(ctx, "a2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteArchivedGame error = %v, want ErrNotFound", err)
	}
	if err := s.ClearArchivedGames(ctx); err != nil {
		t.Fatal(err)
	}
	if all, _ := s.FetchArchivedGames(ctx); len(all) != 0 {
		t.Errorf("archive not empty after clear: %d", len(all))
	}
}

func TestReplaceAllPlayerStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	archiveGame(t, s, archiveEntry("a1", "g1", t0))

	when := t0.Add(time.Hour)
	err := s.ReplaceAllPlayerStats(ctx, map[string]*model.PlayerStats{
		"ann": {Name: "ann", GamesPlayed: 3, TotalNet: d("4.5"), AvgPerGame: d("1.5"), Wins: 2, Ties: 1, LastPlayed: &when},
		"cat": {Name: "Cat", GamesPlayed: 1, TotalNet: d("-2"), AvgPerGame: d("-2"), Losses: 1},
	}, t0)
	if err != nil {
		t.Fatalf("ReplaceAllPlayerStats() returned error: %v", err)
	}

	all, err := s.FetchPlayers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	byName := map[string]model.PlayerStats{}
	for _, p := range all {
		byName[p.Name] = p.Stats
	}
	if len(byName) != 3 {
		t.Fatalf("players = %v, want Ann, Ben, Cat", byName)
	}
	if st := byName["Ann"]; st.GamesPlayed != 3 || !st.AvgPerGame.Equal(d("1.5")) || st.Wins != 2 || !st.LastPlayed.Equal(when) {
		t.Errorf("Ann = %+v", st)
	}
	if st := byName["Ben"]; st.GamesPlayed != 0 || !st.TotalNet.IsZero() || st.LastPlayed != nil {
		t.Errorf("Ben not zeroed: %+v", st)
	}
	if st := byName["Cat"]; st.Losses != 1 || !st.TotalNet.Equal(d("-2")) {
		t.Errorf("Cat = %+v", st)
	}
}

func TestFactoryReset(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	if err := s.CreateGame(ctx, testGame("g2", 0)); err != nil {
		t.Fatal(err)
	}
	archiveGame(t, s, archiveEntry("a1", "g1", t0))
	if err := s.FactoryReset(ctx); err != nil {
		t.Fatalf("FactoryReset() returned error: %v", err)
	}
	if all, _ := s.FetchPlayers(ctx); len(all) != 0 {
		t.Errorf("players survived reset")
	}
	if all, _ := s.FetchArchivedGames(ctx); len(all) != 0 {
		t.Errorf("archive survived reset")
	}
	if all, _ := s.FetchGameSlugs(ctx); len(all) != 0 {
		t.Errorf("active games survived reset")
	}
}
