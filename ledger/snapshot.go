package ledger

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/ts4z/taidi/badinput"
	"github.com/ts4z/taidi/model"
)

// ToSnapshot copies the ledger into its serializable form.
func (l *Ledger) ToSnapshot() *model.Snapshot {
	s := &model.Snapshot{
		Players:   slices.Clone(l.players),
		Balances:  l.balances.Clone(),
		History:   make(map[string][]decimal.Decimal, len(l.players)),
		RoundNum:  l.NextRound(),
		CardValue: l.cardValue,
		TxLog:     l.Transactions(),
	}
	for _, p := range l.players {
		col := make([]decimal.Decimal, len(l.history))
		for i, payouts := range l.history {
			col[i] = payouts.Get(p)
		}
		s.History[p] = col
	}
	return s
}

// FromSnapshot rebuilds a ledger.  The snapshot is checked against every
// ledger invariant; a blob that doesn't add up is rejected rather than
// repaired.
func FromSnapshot(s *model.Snapshot, clock Clock) (*Ledger, error) {
	if s == nil {
		return nil, badinput.Errorf("no snapshot")
	}
	if err := checkPlayers(s.Players); err != nil {
		return nil, err
	}
	if !s.CardValue.IsPositive() {
		return nil, badinput.Errorf("snapshot card value must be positive, got %s", s.CardValue)
	}

	rounds := len(s.TxLog)
	if s.RoundNum != rounds+1 {
		return nil, badinput.Errorf("snapshot says next round is %d but has %d rounds logged", s.RoundNum, rounds)
	}
	if len(s.History) != len(s.Players) {
		return nil, badinput.Errorf("snapshot history has %d players, game has %d", len(s.History), len(s.Players))
	}

	var history []model.Payouts
	for i := 0; i < rounds; i++ {
		history = append(history, make(model.Payouts, len(s.Players)))
	}
	for _, p := range s.Players {
		col, ok := s.History[p]
		if !ok {
			return nil, badinput.Errorf("snapshot history has no column for %q", p)
		}
		if len(col) != rounds {
			return nil, badinput.Errorf("snapshot history for %q has %d rounds, log has %d", p, len(col), rounds)
		}
		sum := decimal.Zero
		for i, v := range col {
			history[i][p] = v
			sum = sum.Add(v)
		}
		bal, ok := s.Balances[p]
		if !ok {
			return nil, badinput.Errorf("snapshot has no balance for %q", p)
		}
		if !bal.Equal(sum) {
			return nil, badinput.Errorf("snapshot balance for %q is %s, history adds up to %s", p, bal, sum)
		}
	}
	if len(s.Balances) != len(s.Players) {
		return nil, badinput.Errorf("snapshot has balances for %d players, game has %d", len(s.Balances), len(s.Players))
	}

	var txLog []model.Transaction
	for i, tx := range s.TxLog {
		if tx.Round != i+1 {
			return nil, badinput.Errorf("snapshot log entry %d is numbered round %d", i, tx.Round)
		}
		if len(tx.Payouts) != len(s.Players) {
			return nil, badinput.Errorf("snapshot round %d pays %d players, game has %d", tx.Round, len(tx.Payouts), len(s.Players))
		}
		if len(tx.CardCounts) != len(s.Players) {
			return nil, badinput.Errorf("snapshot round %d has card counts for %d players, game has %d", tx.Round, len(tx.CardCounts), len(s.Players))
		}
		for _, p := range s.Players {
			if _, ok := tx.Payouts[p]; !ok {
				return nil, badinput.Errorf("snapshot round %d has no payout for %q", tx.Round, p)
			}
			if _, ok := tx.CardCounts[p]; !ok {
				return nil, badinput.Errorf("snapshot round %d has no card count for %q", tx.Round, p)
			}
			if !tx.Payouts.Get(p).Equal(history[i].Get(p)) {
				return nil, badinput.Errorf("snapshot round %d: log and history disagree for %q", tx.Round, p)
			}
		}
		for p := range tx.SpecialHands {
			if !slices.Contains(s.Players, p) {
				return nil, badinput.Errorf("snapshot round %d: special hand for %q, who isn't in the game", tx.Round, p)
			}
		}
		if tx.BaoPlayer != "" && !slices.Contains(s.Players, tx.BaoPlayer) {
			return nil, badinput.Errorf("snapshot round %d: bao player %q isn't in the game", tx.Round, tx.BaoPlayer)
		}
		if !history[i].Sum().IsZero() {
			return nil, badinput.Errorf("snapshot round %d doesn't sum to zero", tx.Round)
		}
		txLog = append(txLog, tx.Clone())
	}

	return &Ledger{
		clock:     clock,
		players:   slices.Clone(s.Players),
		cardValue: s.CardValue,
		balances:  s.Balances.Clone(),
		history:   history,
		txLog:     txLog,
	}, nil
}
