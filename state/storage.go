package state

// package state manages persistence.

import (
	"context"
	"errors"
	"time"

	"github.com/ts4z/taidi/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means someone else wrote first: a stale optimistic lock,
	// or a name or ID that is already taken.
	ErrConflict        = errors.New("conflict")
	ErrAlreadyArchived = errors.New("game already archived")
)

type Closer interface {
	Close()
}

// GameStorage holds games in progress.
type GameStorage interface {
	Closer

	CreateGame(ctx context.Context, g *model.Game) error
	FetchGame(ctx context.Context, gameID string) (*model.Game, error)
	// SaveGame writes g if g.OptimisticLock matches what's stored, and bumps
	// it.  Otherwise it returns ErrConflict and writes nothing.
	SaveGame(ctx context.Context, g *model.Game) error
	DeleteGame(ctx context.Context, gameID string) error
	FetchGameSlugs(ctx context.Context) ([]*model.GameSlug, error)
}

// StatsFolder folds one archive entry into the stats of the players in it.
// acc is keyed by model.NameKey.  stats.Apply is the one we use.
type StatsFolder func(acc map[string]*model.PlayerStats, e *model.ArchiveEntry)

type ArchiveStorage interface {
	Closer

	// AddArchivedGame stores e, drops the active game it came from, and folds
	// it into its players' stats, all or nothing.  Players named in e that
	// aren't registered are created.  A game can only be archived once, and
	// only while it is still active; otherwise ErrNotFound.
	AddArchivedGame(ctx context.Context, e *model.ArchiveEntry, fold StatsFolder) error
	// FetchArchivedGames returns the archive newest first.
	FetchArchivedGames(ctx context.Context) ([]*model.ArchiveEntry, error)
	FetchArchivedGame(ctx context.Context, archiveID string) (*model.ArchiveEntry, error)
	DeleteArchivedGame(ctx context.Context, archiveID string) error
	ClearArchivedGames(ctx context.Context) error
}

type PlayerStorage interface {
	Closer

	FetchPlayers(ctx context.Context) ([]*model.Player, error)
	// FetchPlayerByName ignores case and surrounding space.
	FetchPlayerByName(ctx context.Context, name string) (*model.Player, error)
	CreatePlayer(ctx context.Context, p *model.Player) error
	DeletePlayer(ctx context.Context, playerID string) error
	// ReplaceAllPlayerStats zeroes every player's stats, then writes the
	// given ones, creating players that don't exist yet.  all is keyed by
	// model.NameKey; each entry's Name is the spelling used for creation.
	ReplaceAllPlayerStats(ctx context.Context, all map[string]*model.PlayerStats, now time.Time) error
	ClearPlayers(ctx context.Context) error
}

type Resetter interface {
	// FactoryReset deletes every player, archived game, and active game.
	FactoryReset(ctx context.Context) error
}

// Storage is everything the tracker needs.
type Storage interface {
	GameStorage
	ArchiveStorage
	PlayerStorage
	Resetter
}
