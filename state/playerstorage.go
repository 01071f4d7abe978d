package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ts4z/taidi/dbutil"
	"github.com/ts4z/taidi/model"
)

const playerColumns = `player_id, name, created_at, games_played, total_net, avg_per_game, wins, losses, ties, last_played`

func scanPlayer(sc interface{ Scan(...any) error }) (*model.Player, error) {
	var (
		p                   model.Player
		created, total, avg string
		lastPlayed          sql.NullString
	)
	if err := sc.Scan(&p.PlayerID, &p.Name, &created, &p.Stats.GamesPlayed, &total, &avg,
		&p.Stats.Wins, &p.Stats.Losses, &p.Stats.Ties, &lastPlayed); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.Stats.TotalNet, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("player %s total_net: %w", p.PlayerID, err)
	}
	if p.Stats.AvgPerGame, err = decimal.NewFromString(avg); err != nil {
		return nil, fmt.Errorf("player %s avg_per_game: %w", p.PlayerID, err)
	}
	if lastPlayed.Valid {
		when, err := parseTime(lastPlayed.String)
		if err != nil {
			return nil, err
		}
		p.Stats.LastPlayed = &when
	}
	p.Stats.Name = p.Name
	return &p, nil
}

// FetchPlayers returns every registered player, by name.
func (s *DBStorage) FetchPlayers(ctx context.Context) ([]*model.Player, error) {
	rows, err := s.db.Query(ctx, `SELECT `+playerColumns+` FROM players ORDER BY name_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func fetchPlayerByName(ctx context.Context, q querier, name string) (*model.Player, error) {
	p, err := scanPlayer(q.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE name_key = ?`, model.NameKey(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no such player %q: %w", name, ErrNotFound)
	}
	return p, err
}

func (s *DBStorage) FetchPlayerByName(ctx context.Context, name string) (*model.Player, error) {
	return fetchPlayerByName(ctx, s.db, name)
}

func createPlayer(ctx context.Context, q querier, p *model.Player) error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return errors.New("player name is empty")
	}
	if _, err := q.Exec(ctx,
		`INSERT INTO players (player_id, name, name_key, created_at) VALUES (?, ?, ?, ?)`,
		p.PlayerID, name, model.NameKey(name), formatTime(p.CreatedAt)); err != nil {
		if dbutil.IsUniqueViolation(err) {
			return fmt.Errorf("player %q: %w", name, ErrConflict)
		}
		return err
	}
	p.Name = name
	p.Stats = model.PlayerStats{Name: name}
	return nil
}

func (s *DBStorage) CreatePlayer(ctx context.Context, p *model.Player) error {
	return createPlayer(ctx, s.db, p)
}

func fetchOrCreatePlayer(ctx context.Context, q querier, name string, now time.Time) (*model.Player, error) {
	p, err := fetchPlayerByName(ctx, q, name)
	if err == nil {
		return p, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	p = &model.Player{PlayerID: uuid.NewString(), Name: name, CreatedAt: now}
	if err := createPlayer(ctx, q, p); err != nil {
		return nil, err
	}
	return p, nil
}

func writeStats(ctx context.Context, q querier, playerID string, st *model.PlayerStats) error {
	var lastPlayed sql.NullString
	if st.LastPlayed != nil {
		lastPlayed = sql.NullString{String: formatTime(*st.LastPlayed), Valid: true}
	}
	_, err := q.Exec(ctx,
		`UPDATE players SET games_played = ?, total_net = ?, avg_per_game = ?, wins = ?, losses = ?, ties = ?, last_played = ?
		 WHERE player_id = ?`,
		st.GamesPlayed, st.TotalNet.String(), st.AvgPerGame.String(), st.Wins, st.Losses, st.Ties, lastPlayed,
		playerID)
	if err != nil {
		return fmt.Errorf("writing stats for %s: %w", playerID, err)
	}
	return nil
}

func (s *DBStorage) DeletePlayer(ctx context.Context, playerID string) error {
	result, err := s.db.Exec(ctx, `DELETE FROM players WHERE player_id = ?`, playerID)
	return expectOne(result, err, "player", playerID)
}

func (s *DBStorage) ReplaceAllPlayerStats(ctx context.Context, all map[string]*model.PlayerStats, now time.Time) error {
	tx, err := dbutil.NewTx(ctx, s.db, nil)
	if err != nil {
		return err
	}
	defer tx.MaybeRollback()

	if _, err := tx.Exec(ctx,
		`UPDATE players SET games_played = 0, total_net = '0', avg_per_game = '0', wins = 0, losses = 0, ties = 0, last_played = NULL`); err != nil {
		return fmt.Errorf("zeroing stats: %w", err)
	}
	for k, st := range all {
		name := st.Name
		if name == "" {
			name = k
		}
		p, err := fetchOrCreatePlayer(ctx, tx, name, now)
		if err != nil {
			return err
		}
		if err := writeStats(ctx, tx, p.PlayerID, st); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *DBStorage) ClearPlayers(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM players`)
	return err
}
