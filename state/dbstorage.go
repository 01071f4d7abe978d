package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ts4z/taidi/dbutil"
	"github.com/ts4z/taidi/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Times are stored in UTC at one-second resolution, in a fixed-width form
// that sorts as text.
const storedTimeFormat = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(storedTimeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad stored time %q: %w", s, err)
	}
	return t.Local(), nil
}

// querier is satisfied by both *dbutil.DB and *dbutil.Tx.
type querier interface {
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type DBStorage struct {
	db *dbutil.DB
}

var _ Storage = &DBStorage{}

// NewDBStorage brings the schema up to date and returns storage over db.
func NewDBStorage(ctx context.Context, db *dbutil.DB) (*DBStorage, error) {
	if err := dbutil.ApplyMigrations(ctx, db, migrationFS, "migrations"); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &DBStorage{db: db}, nil
}

func (s *DBStorage) Close() {
	s.db.Close()
}

func (s *DBStorage) CreateGame(ctx context.Context, g *model.Game) error {
	bytes, err := json.Marshal(g.Snapshot)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO active_games (game_id, optimistic_lock, last_updated, model_data) VALUES (?, 1, ?, ?)`,
		g.GameID, formatTime(g.LastUpdated), string(bytes)); err != nil {
		if dbutil.IsUniqueViolation(err) {
			return fmt.Errorf("game %s: %w", g.GameID, ErrConflict)
		}
		return err
	}
	g.OptimisticLock = 1
	return nil
}

func (s *DBStorage) FetchGame(ctx context.Context, gameID string) (*model.Game, error) {
	var lock int64
	var updated, data string
	err := s.db.QueryRow(ctx,
		`SELECT optimistic_lock, last_updated, model_data FROM active_games WHERE game_id = ?`,
		gameID).Scan(&lock, &updated, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no such game %s: %w", gameID, ErrNotFound)
	} else if err != nil {
		return nil, err
	}

	g := &model.Game{GameID: gameID, OptimisticLock: lock, Snapshot: &model.Snapshot{}}
	if g.LastUpdated, err = parseTime(updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), g.Snapshot); err != nil {
		return nil, fmt.Errorf("can't decode game %s: %w", gameID, err)
	}
	return g, nil
}

func (s *DBStorage) SaveGame(ctx context.Context, g *model.Game) error {
	bytes, err := json.Marshal(g.Snapshot)
	if err != nil {
		return err
	}
	result, err := s.db.Exec(ctx,
		`UPDATE active_games SET optimistic_lock = optimistic_lock + 1, last_updated = ?, model_data = ?
		 WHERE game_id = ? AND optimistic_lock = ?`,
		formatTime(g.LastUpdated), string(bytes), g.GameID, g.OptimisticLock)
	if err != nil {
		log.Printf("update failed: %v", err)
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		var one int
		err := s.db.QueryRow(ctx, `SELECT 1 FROM active_games WHERE game_id = ?`, g.GameID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("no such game %s: %w", g.GameID, ErrNotFound)
		}
		return fmt.Errorf("game %s changed since version %d: %w", g.GameID, g.OptimisticLock, ErrConflict)
	}
	g.OptimisticLock++
	return nil
}

func (s *DBStorage) DeleteGame(ctx context.Context, gameID string) error {
	result, err := s.db.Exec(ctx, `DELETE FROM active_games WHERE game_id = ?`, gameID)
	return expectOne(result, err, "game", gameID)
}

// FetchGameSlugs lists active games, most recently touched first.
func (s *DBStorage) FetchGameSlugs(ctx context.Context) ([]*model.GameSlug, error) {
	rows, err := s.db.Query(ctx,
		`SELECT game_id, last_updated, model_data FROM active_games ORDER BY last_updated DESC, game_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slugs []*model.GameSlug
	for rows.Next() {
		var id, updated, data string
		if err := rows.Scan(&id, &updated, &data); err != nil {
			return nil, err
		}
		snap := model.Snapshot{}
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			log.Printf("skipping game %s, can't decode: %v", id, err)
			continue
		}
		when, err := parseTime(updated)
		if err != nil {
			return nil, err
		}
		slugs = append(slugs, &model.GameSlug{
			GameID:      id,
			Players:     snap.Players,
			Rounds:      len(snap.TxLog),
			LastUpdated: when,
		})
	}
	return slugs, rows.Err()
}

// expectOne turns an Exec result that should have touched exactly one row
// into ErrNotFound when it touched none.
func expectOne(result sql.Result, err error, what, id string) error {
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no such %s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

func (s *DBStorage) FactoryReset(ctx context.Context) error {
	tx, err := dbutil.NewTx(ctx, s.db, nil)
	if err != nil {
		return err
	}
	defer tx.MaybeRollback()
	for _, table := range []string{"players", "archived_games", "active_games"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return tx.Commit()
}
