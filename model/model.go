package model

import (
	"maps"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DateTimeFormat is how archive and player timestamps are written.
	DateTimeFormat = "2006-01-02 15:04:05"
)

// Round is one played hand, as reported at the table.
type Round struct {
	// CardCounts maps each player to the cards left in hand.  Zero means the
	// player went out (won the hand).
	CardCounts map[string]int
	// SpecialHands maps a player to the number of special hands declared.
	// Missing or zero means none.
	SpecialHands map[string]int
	// BaoPlayer pays everyone else's card losses this round.  Empty for none.
	BaoPlayer string
	CardValue decimal.Decimal
}

// Payouts is a payout vector: player -> signed amount for one round.
// Positive is money won.  A well-formed vector always sums to zero.
type Payouts map[string]decimal.Decimal

// Sum adds every entry.
func (p Payouts) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range p {
		sum = sum.Add(v)
	}
	return sum
}

// Get returns the entry for player, or zero.
func (p Payouts) Get(player string) decimal.Decimal {
	if v, ok := p[player]; ok {
		return v
	}
	return decimal.Zero
}

func (p Payouts) Clone() Payouts {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// Transaction records one applied round in the ledger's log.
type Transaction struct {
	Round        int             `json:"round"`
	Timestamp    time.Time       `json:"timestamp"`
	CardCounts   map[string]int  `json:"card_counts"`
	SpecialHands map[string]int  `json:"special_hands,omitempty"`
	BaoPlayer    string          `json:"bao_player,omitempty"`
	CardValue    decimal.Decimal `json:"card_value"`
	Payouts      Payouts         `json:"payouts"`
}

func (tx Transaction) Clone() Transaction {
	cpy := tx
	cpy.CardCounts = maps.Clone(tx.CardCounts)
	cpy.SpecialHands = maps.Clone(tx.SpecialHands)
	cpy.Payouts = tx.Payouts.Clone()
	return cpy
}

// PlayerSummary is one row of the earnings table.
type PlayerSummary struct {
	Player string
	Rounds []decimal.Decimal
	Total  decimal.Decimal
}

// Snapshot is the serialized form of a ledger.  History is keyed by player,
// then indexed by round (0-based index == round number - 1).
type Snapshot struct {
	Players   []string                     `json:"players"`
	Balances  Payouts                      `json:"balances"`
	History   map[string][]decimal.Decimal `json:"history"`
	RoundNum  int                          `json:"round_num"`
	CardValue decimal.Decimal              `json:"card_value"`
	TxLog     []Transaction                `json:"tx_log"`
}

// Game is an active game as it sits in storage.
type Game struct {
	GameID         string
	OptimisticLock int64
	LastUpdated    time.Time
	Snapshot       *Snapshot
}

// GameSlug describes an active game for listings.
type GameSlug struct {
	GameID      string
	Players     []string
	Rounds      int
	LastUpdated time.Time
}

// ArchiveEntry is the frozen result of a finished game.
type ArchiveEntry struct {
	ArchiveID    string                       `json:"archive_id"`
	GameID       string                       `json:"game_id"`
	CreatedAt    time.Time                    `json:"created_at"`
	Players      []string                     `json:"players"`
	RoundsPlayed int                          `json:"rounds_played"`
	CardValue    decimal.Decimal              `json:"card_value"`
	FinalTotals  Payouts                      `json:"final_totals"`
	WinnerOrder  []string                     `json:"winner_order"`
	RoundHistory map[string][]decimal.Decimal `json:"round_history"`
}

// PlayerStats are lifetime numbers, always derivable from the archive.
type PlayerStats struct {
	Name        string
	GamesPlayed int
	TotalNet    decimal.Decimal
	AvgPerGame  decimal.Decimal
	// Wins, Losses, and Ties count rounds, not games.
	Wins       int
	Losses     int
	Ties       int
	LastPlayed *time.Time
}

// NameKey is how player names are compared: case and surrounding space
// don't matter.  Maps of PlayerStats are keyed by it.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Player is a registered participant.
type Player struct {
	PlayerID  string
	Name      string
	CreatedAt time.Time
	Stats     PlayerStats
}

// PlayerGame is one line of a player's per-game history.
type PlayerGame struct {
	When      time.Time
	Rounds    int
	CardValue decimal.Decimal
	Net       decimal.Decimal
}
