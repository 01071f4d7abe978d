// Package dbcache puts an LRU in front of game storage.  Games are read on
// every command that touches them and written on most, so a long-running
// caller saves a round trip per command.
package dbcache

import (
	"context"
	"log"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ts4z/taidi/model"
	"github.com/ts4z/taidi/state"
	"github.com/ts4z/taidi/varz"
)

var (
	gameStorageCacheHits            = varz.NewInt("gameStorageCacheHits")
	gameStorageCacheMisses          = varz.NewInt("gameStorageCacheMisses")
	gameStorageCacheDuplicateUpdate = varz.NewInt("gameStorageCacheDuplicateUpdate")
)

// GameStorage caches games by ID.  Cached games are shared; callers must
// not modify what FetchGame returns.
type GameStorage struct {
	cache *lru.Cache[string, *model.Game]
	lock  sync.Mutex
	next  state.GameStorage
}

var _ state.GameStorage = (*GameStorage)(nil)

func NewGameStorage(size int, next state.GameStorage) *GameStorage {
	cache, err := lru.New[string, *model.Game](size)
	if err != nil {
		log.Fatalf("Failed to create GameStorage cache: %v", err)
	}
	return &GameStorage{
		cache: cache,
		next:  next,
	}
}

func (s *GameStorage) Close() {
	s.cache.Purge()
	s.next.Close()
}

// CreateGame implements state.GameStorage.
func (s *GameStorage) CreateGame(ctx context.Context, g *model.Game) error {
	if err := s.next.CreateGame(ctx, g); err != nil {
		return err
	}
	s.CacheStore(ctx, g)
	return nil
}

// DeleteGame implements state.GameStorage.
func (s *GameStorage) DeleteGame(ctx context.Context, id string) error {
	s.cache.Remove(id)
	return s.next.DeleteGame(ctx, id)
}

// FetchGameSlugs implements state.GameStorage.
func (s *GameStorage) FetchGameSlugs(ctx context.Context) ([]*model.GameSlug, error) {
	return s.next.FetchGameSlugs(ctx)
}

// CacheInvalidate drops id if what we hold is no newer than version.
func (s *GameStorage) CacheInvalidate(_ context.Context, id string, version int64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if g, ok := s.cache.Get(id); ok {
		if g.OptimisticLock <= version {
			s.cache.Remove(id)
		}
	}
}

func (s *GameStorage) CacheStore(ctx context.Context, g *model.Game) {
	id := g.GameID
	s.lock.Lock()
	defer s.lock.Unlock()
	cached, ok := s.cache.Get(id)
	if ok {
		if cached.OptimisticLock > g.OptimisticLock {
			log.Printf("cache: have version %d, incoming %d, ignoring", cached.OptimisticLock, g.OptimisticLock)
			return
		} else if cached.OptimisticLock == g.OptimisticLock {
			gameStorageCacheDuplicateUpdate.Add(1)
			return
		}
	}
	s.cache.Add(id, g)
}

func (s *GameStorage) FetchGame(ctx context.Context, id string) (*model.Game, error) {
	if g, ok := s.cache.Get(id); ok {
		gameStorageCacheHits.Add(1)
		return g, nil
	}

	gameStorageCacheMisses.Add(1)
	g, err := s.next.FetchGame(ctx, id)
	if err != nil {
		return nil, err
	}
	s.CacheStore(ctx, g)
	return g, nil
}

// SaveGame implements state.GameStorage.  A conflict means our copy is
// stale, so it's dropped.
func (s *GameStorage) SaveGame(ctx context.Context, g *model.Game) error {
	if err := s.next.SaveGame(ctx, g); err != nil {
		s.CacheInvalidate(ctx, g.GameID, g.OptimisticLock)
		return err
	}
	s.CacheStore(ctx, g)
	return nil
}

// Forget drops id regardless of version.  Used when something other than
// this cache removes the game, such as archiving it.
func (s *GameStorage) Forget(id string) {
	s.cache.Remove(id)
}

// Purge empties the cache.
func (s *GameStorage) Purge() {
	s.cache.Purge()
}
