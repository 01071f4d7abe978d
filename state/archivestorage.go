package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ts4z/taidi/dbutil"
	"github.com/ts4z/taidi/model"
)

func (s *DBStorage) AddArchivedGame(ctx context.Context, e *model.ArchiveEntry, fold StatsFolder) error {
	bytes, err := json.Marshal(e)
	if err != nil {
		return err
	}

	tx, err := dbutil.NewTx(ctx, s.db, nil)
	if err != nil {
		return err
	}
	defer tx.MaybeRollback()

	if _, err := tx.Exec(ctx,
		`INSERT INTO archived_games (archive_id, game_id, created_at, model_data) VALUES (?, ?, ?, ?)`,
		e.ArchiveID, e.GameID, formatTime(e.CreatedAt), string(bytes)); err != nil {
		if dbutil.IsUniqueViolation(err) {
			return fmt.Errorf("game %s: %w", e.GameID, ErrAlreadyArchived)
		}
		return fmt.Errorf("inserting archive entry: %w", err)
	}
	// a game abandoned since it was loaded can't be archived
	result, err := tx.Exec(ctx, `DELETE FROM active_games WHERE game_id = ?`, e.GameID)
	if err := expectOne(result, err, "game", e.GameID); err != nil {
		return fmt.Errorf("removing active game: %w", err)
	}

	acc := make(map[string]*model.PlayerStats, len(e.Players))
	ids := make(map[string]string, len(e.Players))
	for _, name := range e.Players {
		p, err := fetchOrCreatePlayer(ctx, tx, name, e.CreatedAt)
		if err != nil {
			return err
		}
		st := p.Stats
		st.Name = name
		acc[model.NameKey(name)] = &st
		ids[model.NameKey(name)] = p.PlayerID
	}
	fold(acc, e)
	for k, st := range acc {
		id, ok := ids[k]
		if !ok {
			return fmt.Errorf("stats produced for %q, who isn't in game %s", st.Name, e.GameID)
		}
		if err := writeStats(ctx, tx, id, st); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanArchiveEntry(sc interface{ Scan(...any) error }) (*model.ArchiveEntry, error) {
	var id, created, data string
	if err := sc.Scan(&id, &created, &data); err != nil {
		return nil, err
	}
	e := &model.ArchiveEntry{}
	if err := json.Unmarshal([]byte(data), e); err != nil {
		return nil, fmt.Errorf("can't decode archive entry %s: %w", id, err)
	}
	// the columns win over the blob
	e.ArchiveID = id
	when, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = when
	return e, nil
}

func (s *DBStorage) FetchArchivedGames(ctx context.Context) ([]*model.ArchiveEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT archive_id, created_at, model_data FROM archived_games ORDER BY created_at DESC, archive_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ArchiveEntry
	for rows.Next() {
		e, err := scanArchiveEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *DBStorage) FetchArchivedGame(ctx context.Context, archiveID string) (*model.ArchiveEntry, error) {
	row := s.db.QueryRow(ctx,
		`SELECT archive_id, created_at, model_data FROM archived_games WHERE archive_id = ?`, archiveID)
	e, err := scanArchiveEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no such archived game %s: %w", archiveID, ErrNotFound)
	}
	return e, err
}

func (s *DBStorage) DeleteArchivedGame(ctx context.Context, archiveID string) error {
	result, err := s.db.Exec(ctx, `DELETE FROM archived_games WHERE archive_id = ?`, archiveID)
	return expectOne(result, err, "archived game", archiveID)
}

func (s *DBStorage) ClearArchivedGames(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM archived_games`)
	return err
}
