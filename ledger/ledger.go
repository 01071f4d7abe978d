// Package ledger keeps the running books for one game: per-player balances,
// the payout vector of every round played, and a transaction log that lines
// up with it round for round.
//
// Rounds can be appended, the last one undone, or any one removed after the
// fact.  Removal renumbers everything after it so round numbers stay 1..n.
// Balances are maintained incrementally and always equal the column sums of
// the history; every mutation updates balances, history, and log together or
// not at all.
//
// A Ledger is not safe for concurrent use.  Callers that share one must
// serialize access.
package ledger

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ts4z/taidi/badinput"
	"github.com/ts4z/taidi/model"
	"github.com/ts4z/taidi/settle"
)

// Clock stamps transactions.  ts.Clock and clockwork.Clock implement this.
type Clock interface {
	Now() time.Time
}

type Ledger struct {
	clock     Clock
	players   []string
	cardValue decimal.Decimal
	balances  model.Payouts
	history   []model.Payouts
	txLog     []model.Transaction
}

// New starts an empty ledger for a fixed set of players.  cardValue is the
// default used by rounds that don't name their own.
func New(players []string, cardValue decimal.Decimal, clock Clock) (*Ledger, error) {
	if err := checkPlayers(players); err != nil {
		return nil, err
	}
	if !cardValue.IsPositive() {
		return nil, badinput.Errorf("card value must be positive, got %s", cardValue)
	}
	l := &Ledger{
		clock:     clock,
		players:   slices.Clone(players),
		cardValue: cardValue,
		balances:  make(model.Payouts, len(players)),
	}
	for _, p := range players {
		l.balances[p] = decimal.Zero
	}
	return l, nil
}

func checkPlayers(players []string) error {
	if len(players) == 0 {
		return badinput.Errorf("a game needs at least one player")
	}
	seen := make(map[string]bool, len(players))
	for _, p := range players {
		if strings.TrimSpace(p) == "" {
			return badinput.Errorf("player names can't be blank")
		}
		if seen[p] {
			return badinput.Errorf("player %q is listed twice", p)
		}
		seen[p] = true
	}
	return nil
}

// AddRound settles a round and books it.  A zero CardValue in the round
// means "use the ledger's current card value".  Every player in the game
// must report a card count, and nobody else may.  Returns the new round's
// 1-based number.
func (l *Ledger) AddRound(r model.Round) (int, error) {
	if len(r.CardCounts) != len(l.players) {
		return 0, badinput.Errorf("got card counts for %d players, game has %d", len(r.CardCounts), len(l.players))
	}
	for _, p := range l.players {
		if _, ok := r.CardCounts[p]; !ok {
			return 0, badinput.Errorf("no card count for %q", p)
		}
	}
	if r.CardValue.IsZero() {
		r.CardValue = l.cardValue
	}

	payouts, err := settle.ComputePayouts(r)
	if err != nil {
		return 0, err
	}

	number := len(l.history) + 1
	tx := model.Transaction{
		Round:      number,
		Timestamp:  l.clock.Now(),
		CardCounts: maps.Clone(r.CardCounts),
		BaoPlayer:  r.BaoPlayer,
		CardValue:  r.CardValue,
		Payouts:    payouts.Clone(),
	}
	for p, n := range r.SpecialHands {
		if n > 0 {
			if tx.SpecialHands == nil {
				tx.SpecialHands = map[string]int{}
			}
			tx.SpecialHands[p] = n
		}
	}

	for _, p := range l.players {
		l.balances[p] = l.balances[p].Add(payouts.Get(p))
	}
	l.history = append(l.history, payouts)
	l.txLog = append(l.txLog, tx)
	return number, nil
}

// UndoLastRound drops the most recent round.  It reports false if there
// was nothing to undo.
func (l *Ledger) UndoLastRound() bool {
	if len(l.history) == 0 {
		return false
	}
	return l.RemoveRound(len(l.history))
}

// RemoveRound deletes round n (1-based) and renumbers the rounds after it.
// It reports false if n isn't a round in this game.
func (l *Ledger) RemoveRound(n int) bool {
	if n < 1 || n > len(l.history) {
		return false
	}
	idx := n - 1
	removed := l.history[idx]
	for _, p := range l.players {
		l.balances[p] = l.balances[p].Sub(removed.Get(p))
	}
	l.history = slices.Delete(l.history, idx, idx+1)
	l.txLog = slices.Delete(l.txLog, idx, idx+1)
	for i := idx; i < len(l.txLog); i++ {
		l.txLog[i].Round = i + 1
	}
	if len(l.history) == 0 {
		// an empty game looks the same however it got that way
		l.history, l.txLog = nil, nil
	}
	return true
}

// Summary is the earnings table: each player's per-round results and total,
// in seating order.
func (l *Ledger) Summary() []model.PlayerSummary {
	out := make([]model.PlayerSummary, 0, len(l.players))
	for _, p := range l.players {
		row := model.PlayerSummary{
			Player: p,
			Rounds: make([]decimal.Decimal, len(l.history)),
			Total:  decimal.Zero,
		}
		for i, payouts := range l.history {
			v := payouts.Get(p)
			row.Rounds[i] = v
			row.Total = row.Total.Add(v)
		}
		out = append(out, row)
	}
	return out
}

// Balances returns a copy of the running totals.
func (l *Ledger) Balances() model.Payouts {
	return l.balances.Clone()
}

// History returns a copy of the per-round payout vectors, round 1 first.
func (l *Ledger) History() []model.Payouts {
	out := make([]model.Payouts, len(l.history))
	for i, p := range l.history {
		out[i] = p.Clone()
	}
	return out
}

// Transactions returns a copy of the transaction log.
func (l *Ledger) Transactions() []model.Transaction {
	out := make([]model.Transaction, len(l.txLog))
	for i, tx := range l.txLog {
		out[i] = tx.Clone()
	}
	return out
}

func (l *Ledger) Players() []string {
	return slices.Clone(l.players)
}

func (l *Ledger) RoundCount() int {
	return len(l.history)
}

// NextRound is the number the next added round will get.
func (l *Ledger) NextRound() int {
	return len(l.history) + 1
}

func (l *Ledger) CardValue() decimal.Decimal {
	return l.cardValue
}

// SetCardValue changes the default card value for rounds added from now on.
// Rounds already booked keep the value they were played at.
func (l *Ledger) SetCardValue(v decimal.Decimal) error {
	if !v.IsPositive() {
		return badinput.Errorf("card value must be positive, got %s", v)
	}
	l.cardValue = v
	return nil
}
