// Package fakes has an in-memory state.Storage for tests that don't need
// a database.
package fakes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ts4z/taidi/model"
	"github.com/ts4z/taidi/state"
)

type FakeStorage struct {
	rw       sync.Mutex
	games    map[string]*model.Game
	archive  map[string]*model.ArchiveEntry
	players  map[string]*model.Player // by lowercased name
	Fetches  int
	failNext error
}

var _ state.Storage = (*FakeStorage)(nil)

func NewFakeStorage() *FakeStorage {
	return &FakeStorage{
		games:   map[string]*model.Game{},
		archive: map[string]*model.ArchiveEntry{},
		players: map[string]*model.Player{},
	}
}

func (s *FakeStorage) Lock() func() {
	s.rw.Lock()
	return func() { s.rw.Unlock() }
}

// FailNext makes the next storage call return err.
func (s *FakeStorage) FailNext(err error) {
	unlock := s.Lock()
	defer unlock()
	s.failNext = err
}

func (s *FakeStorage) injected() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *FakeStorage) Close() {}

// deepCopy round-trips through JSON, the same trip real storage makes.
func deepCopy[T any](v *T) *T {
	bytes, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(bytes, out); err != nil {
		panic(err)
	}
	return out
}

func copyGame(g *model.Game) *model.Game {
	cpy := *g
	cpy.Snapshot = deepCopy(g.Snapshot)
	return &cpy
}

func key(name string) string {
	return model.NameKey(name)
}

func (s *FakeStorage) CreateGame(_ context.Context, g *model.Game) error {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return err
	}
	if _, ok := s.games[g.GameID]; ok {
		return fmt.Errorf("game %s: %w", g.GameID, state.ErrConflict)
	}
	g.OptimisticLock = 1
	s.games[g.GameID] = copyGame(g)
	return nil
}

func (s *FakeStorage) FetchGame(_ context.Context, id string) (*model.Game, error) {
	unlock := s.Lock()
	defer unlock()
	s.Fetches++
	if err := s.injected(); err != nil {
		return nil, err
	}
	g, ok := s.games[id]
	if !ok {
		return nil, fmt.Errorf("no such game %s: %w", id, state.ErrNotFound)
	}
	return copyGame(g), nil
}

func (s *FakeStorage) SaveGame(_ context.Context, g *model.Game) error {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return err
	}
	cur, ok := s.games[g.GameID]
	if !ok {
		return fmt.Errorf("no such game %s: %w", g.GameID, state.ErrNotFound)
	}
	if cur.OptimisticLock != g.OptimisticLock {
		return fmt.Errorf("game %s: %w", g.GameID, state.ErrConflict)
	}
	g.OptimisticLock++
	s.games[g.GameID] = copyGame(g)
	return nil
}

func (s *FakeStorage) DeleteGame(_ context.Context, id string) error {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return err
	}
	if _, ok := s.games[id]; !ok {
		return fmt.Errorf("no such game %s: %w", id, state.ErrNotFound)
	}
	delete(s.games, id)
	return nil
}

func (s *FakeStorage) FetchGameSlugs(_ context.Context) ([]*model.GameSlug, error) {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	var out []*model.GameSlug
	for _, g := range s.games {
		out = append(out, &model.GameSlug{
			GameID:      g.GameID,
			Players:     g.Snapshot.Players,
			Rounds:      len(g.Snapshot.TxLog),
			LastUpdated: g.LastUpdated,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.After(out[j].LastUpdated)
		}
		return out[i].GameID < out[j].GameID
	})
	return out, nil
}

func (s *FakeStorage) fetchOrCreatePlayer(name string, now time.Time) *model.Player {
	if p, ok := s.players[key(name)]; ok {
		return p
	}
	p := &model.Player{PlayerID: uuid.NewString(), Name: strings.TrimSpace(name), CreatedAt: now}
	p.Stats.Name = p.Name
	s.players[key(name)] = p
	return p
}

func (s *FakeStorage) AddArchivedGame(_ context.Context, e *model.ArchiveEntry, fold state.StatsFolder) error {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return err
	}
	for _, a := range s.archive {
		if a.GameID == e.GameID {
			return fmt.Errorf("game %s: %w", e.GameID, state.ErrAlreadyArchived)
		}
	}
	if _, ok := s.archive[e.ArchiveID]; ok {
		return fmt.Errorf("archive %s: %w", e.ArchiveID, state.ErrConflict)
	}

	if _, ok := s.games[e.GameID]; !ok {
		return fmt.Errorf("no such game %s: %w", e.GameID, state.ErrNotFound)
	}

	// fold into copies so a bad fold leaves nothing behind
	acc := map[string]*model.PlayerStats{}
	var created []string
	for _, name := range e.Players {
		if _, ok := s.players[key(name)]; !ok {
			created = append(created, key(name))
		}
		st := s.fetchOrCreatePlayer(name, e.CreatedAt).Stats
		st.Name = name
		acc[key(name)] = &st
	}
	fold(acc, e)
	for k, st := range acc {
		if _, ok := s.players[k]; !ok {
			for _, c := range created {
				delete(s.players, c)
			}
			return fmt.Errorf("stats produced for %q, who isn't in game %s", st.Name, e.GameID)
		}
	}
	for k, st := range acc {
		p := s.players[k]
		p.Stats = *st
		p.Stats.Name = p.Name
	}

	s.archive[e.ArchiveID] = deepCopy(e)
	delete(s.games, e.GameID)
	return nil
}

func (s *FakeStorage) FetchArchivedGames(_ context.Context) ([]*model.ArchiveEntry, error) {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	var out []*model.ArchiveEntry
	for _, e := range s.archive {
		out = append(out, deepCopy(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ArchiveID > out[j].ArchiveID
	})
	return out, nil
}

func (s *FakeStorage) FetchArchivedGame(_ context.Context, id string) (*model.ArchiveEntry, error) {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	e, ok := s.archive[id]
	if !ok {
		return nil, fmt.Errorf("no such archived game %s: %w", id, state.ErrNotFound)
	}
	return deepCopy(e), nil
}

func (s *FakeStorage) DeleteArchivedGame(_ context.Context, id string) error {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return err
	}
	if _, ok := s.archive[id]; !ok {
		return fmt.Errorf("no such archived game %s: %w", id, state.ErrNotFound)
	}
	delete(s.archive, id)
	return nil
}

func (s *FakeStorage) ClearArchivedGames(_ context.Context) error {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return err
	}
	s.archive = map[string]*model.ArchiveEntry{}
	return nil
}

func (s *FakeStorage) FetchPlayers(_ context.Context) ([]*model.Player, error) {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	var out []*model.Player
	for _, p := range s.players {
		cpy := *p
		out = append(out, &cpy)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i].Name) < key(out[j].Name) })
	return out, nil
}

func (s *FakeStorage) FetchPlayerByName(_ context.Context, name string) (*model.Player, error) {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	p, ok := s.players[key(name)]
	if !ok {
		return nil, fmt.Errorf("no such player %q: %w", name, state.ErrNotFound)
	}
	cpy := *p
	return &cpy, nil
}

func (s *FakeStorage) CreatePlayer(_ context.Context, p *model.Player) error {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return err
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return fmt.Errorf("player name is empty")
	}
	if _, ok := s.players[key(name)]; ok {
		return fmt.Errorf("player %q: %w", name, state.ErrConflict)
	}
	p.Name = name
	p.Stats = model.PlayerStats{Name: name}
	cpy := *p
	s.players[key(name)] = &cpy
	return nil
}

func (s *FakeStorage) DeletePlayer(_ context.Context, id string) error {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return err
	}
	for k, p := range s.players {
		if p.PlayerID == id {
			delete(s.players, k)
			return nil
		}
	}
	return fmt.Errorf("no such player %s: %w", id, state.ErrNotFound)
}

func (s *FakeStorage) ReplaceAllPlayerStats(_ context.Context, all map[string]*model.PlayerStats, now time.Time) error {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return err
	}
	for _, p := range s.players {
		p.Stats = model.PlayerStats{Name: p.Name}
	}
	for k, st := range all {
		name := st.Name
		if name == "" {
			name = k
		}
		p := s.fetchOrCreatePlayer(name, now)
		p.Stats = *st
		p.Stats.Name = p.Name
	}
	return nil
}

func (s *FakeStorage) ClearPlayers(_ context.Context) error {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return err
	}
	s.players = map[string]*model.Player{}
	return nil
}

func (s *FakeStorage) FactoryReset(_ context.Context) error {
	unlock := s.Lock()
	defer unlock()
	if err := s.injected(); err != nil {
		return err
	}
	s.games = map[string]*model.Game{}
	s.archive = map[string]*model.ArchiveEntry{}
	s.players = map[string]*model.Player{}
	return nil
}
