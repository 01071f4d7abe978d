package ledger

import (
	"encoding/json"
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/ts4z/taidi/badinput"
	"github.com/ts4z/taidi/model"
	"github.com/ts4z/taidi/ts"
)

var fourPlayers = []string{"Alice", "Bob", "Carol", "Dave"}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestLedger(t *testing.T) (*Ledger, clockwork.FakeClock) {
	t.Helper()
	fake := clockwork.NewFakeClockAt(time.Date(2024, 11, 2, 19, 30, 0, 0, time.Local))
	l, err := New(fourPlayers, d("0.20"), ts.NewClock(fake))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return l, fake
}

func counts(a, b, c, dd int) model.Round {
	return model.Round{CardCounts: map[string]int{"Alice": a, "Bob": b, "Carol": c, "Dave": dd}}
}

func mustAdd(t *testing.T, l *Ledger, r model.Round) int {
	t.Helper()
	n, err := l.AddRound(r)
	if err != nil {
		t.Fatalf("AddRound(%+v) returned error: %v", r, err)
	}
	return n
}

// checkInvariants verifies balances match history and the log lines up.
func checkInvariants(t *testing.T, l *Ledger) {
	t.Helper()
	history := l.History()
	txs := l.Transactions()
	if len(history) != len(txs) {
		t.Fatalf("history has %d rounds, log has %d", len(history), len(txs))
	}
	for i, tx := range txs {
		if tx.Round != i+1 {
			t.Errorf("log[%d].Round = %d, want %d", i, tx.Round, i+1)
		}
	}
	balances := l.Balances()
	for _, row := range l.Summary() {
		sum := decimal.Zero
		for _, payouts := range history {
			sum = sum.Add(payouts.Get(row.Player))
		}
		if !balances[row.Player].Equal(sum) {
			t.Errorf("balance[%s] = %s, history sums to %s", row.Player, balances[row.Player], sum)
		}
		if !row.Total.Equal(balances[row.Player]) {
			t.Errorf("summary total[%s] = %s, balance %s", row.Player, row.Total, balances[row.Player])
		}
	}
	if !balances.Sum().IsZero() {
		t.Errorf("balances sum to %s, want 0", balances.Sum())
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		players []string
		value   string
		wantErr bool
	}{
		{"four players", fourPlayers, "0.10", false},
		{"one player", []string{"Solo"}, "1", false},
		{"no players", nil, "0.10", true},
		{"duplicate", []string{"Alice", "Bob", "Alice"}, "0.10", true},
		{"blank name", []string{"Alice", " "}, "0.10", true},
		{"zero card value", fourPlayers, "0", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.players, d(tt.value), ts.NewRealClock())
			if tt.wantErr {
				if !errors.Is(err, badinput.ErrInvalidInput) {
					t.Errorf("New() error = %v, want invalid input", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() returned error: %v", err)
			}
			if l.RoundCount() != 0 || l.NextRound() != 1 {
				t.Errorf("new ledger has %d rounds, next %d", l.RoundCount(), l.NextRound())
			}
			for p, v := range l.Balances() {
				if !v.IsZero() {
					t.Errorf("balance[%s] = %s, want 0", p, v)
				}
			}
		})
	}
}

func TestAddRound(t *testing.T) {
	l, fake := newTestLedger(t)
	start := fake.Now()

	if n := mustAdd(t, l, counts(0, 5, 8, 13)); n != 1 {
		t.Errorf("first round numbered %d, want 1", n)
	}
	fake.Advance(3 * time.Minute)
	if n := mustAdd(t, l, model.Round{
		CardCounts: map[string]int{"Alice": 4, "Bob": 0, "Carol": 2, "Dave": 1},
		CardValue:  d("0.50"),
		BaoPlayer:  "Alice",
	}); n != 2 {
		t.Errorf("second round numbered %d, want 2", n)
	}
	checkInvariants(t, l)

	txs := l.Transactions()
	if !txs[0].Timestamp.Equal(start) {
		t.Errorf("round 1 stamped %v, want %v", txs[0].Timestamp, start)
	}
	if !txs[1].Timestamp.Equal(start.Add(3 * time.Minute)) {
		t.Errorf("round 2 stamped %v, want %v", txs[1].Timestamp, start.Add(3*time.Minute))
	}
	if !txs[0].CardValue.Equal(d("0.20")) {
		t.Errorf("round 1 card value %s, want ledger default 0.20", txs[0].CardValue)
	}
	if !txs[1].CardValue.Equal(d("0.50")) || txs[1].BaoPlayer != "Alice" {
		t.Errorf("round 2 logged as %+v", txs[1])
	}
	// round 2: Alice loses 5.5 on cards and covers Carol's 1.5 as bao
	if got, want := l.Balances()["Alice"], d("11.6").Sub(d("7.0")); !got.Equal(want) {
		t.Errorf("balance[Alice] = %s, want %s", got, want)
	}
	if got := l.History()[1]["Carol"]; !got.IsZero() {
		t.Errorf("round 2 payout[Carol] = %s, want 0 under bao", got)
	}
}

func TestAddRoundRejectsWithoutChangingState(t *testing.T) {
	l, _ := newTestLedger(t)
	mustAdd(t, l, counts(0, 5, 8, 13))
	before := l.ToSnapshot()

	bad := []model.Round{
		{CardCounts: map[string]int{"Alice": 0, "Bob": 1, "Carol": 2}},
		{CardCounts: map[string]int{"Alice": 0, "Bob": 1, "Carol": 2, "Eve": 3}},
		{CardCounts: map[string]int{"Alice": 0, "Bob": 1, "Carol": 2, "Dave": -3}},
		{CardCounts: map[string]int{"Alice": 0, "Bob": 1, "Carol": 2, "Dave": 3}, BaoPlayer: "Eve"},
		{CardCounts: map[string]int{"Alice": 0, "Bob": 1, "Carol": 2, "Dave": 3}, CardValue: d("-1")},
	}
	for i, r := range bad {
		if _, err := l.AddRound(r); !errors.Is(err, badinput.ErrInvalidInput) {
			t.Errorf("bad round %d: error = %v, want invalid input", i, err)
		}
	}
	if after := l.ToSnapshot(); !reflect.DeepEqual(before, after) {
		t.Errorf("rejected rounds changed the ledger:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestUndoLastRound(t *testing.T) {
	l, _ := newTestLedger(t)
	if l.UndoLastRound() {
		t.Errorf("UndoLastRound() on empty ledger = true, want false")
	}

	mustAdd(t, l, counts(0, 5, 8, 13))
	mustAdd(t, l, counts(3, 0, 1, 2))
	if !l.UndoLastRound() {
		t.Fatalf("UndoLastRound() = false, want true")
	}
	if l.RoundCount() != 1 {
		t.Errorf("RoundCount() = %d, want 1", l.RoundCount())
	}
	checkInvariants(t, l)

	if !l.UndoLastRound() {
		t.Fatalf("UndoLastRound() = false, want true")
	}
	for p, v := range l.Balances() {
		if !v.IsZero() {
			t.Errorf("balance[%s] = %s after undoing everything, want 0", p, v)
		}
	}
}

func TestUndoMatchesRemoveLast(t *testing.T) {
	a, _ := newTestLedger(t)
	b, _ := newTestLedger(t)
	for _, l := range []*Ledger{a, b} {
		mustAdd(t, l, counts(0, 5, 8, 13))
		mustAdd(t, l, counts(3, 0, 1, 2))
		mustAdd(t, l, counts(10, 11, 0, 4))
	}
	a.UndoLastRound()
	b.RemoveRound(3)
	if !reflect.DeepEqual(a.ToSnapshot(), b.ToSnapshot()) {
		t.Errorf("undo and remove-last disagree:\n%+v\n%+v", a.ToSnapshot(), b.ToSnapshot())
	}
}

func TestRemoveRoundMidSequence(t *testing.T) {
	l, _ := newTestLedger(t)
	mustAdd(t, l, counts(0, 5, 8, 13))
	mustAdd(t, l, counts(3, 0, 1, 2))
	mustAdd(t, l, counts(10, 11, 0, 4))
	history := l.History()

	if !l.RemoveRound(2) {
		t.Fatalf("RemoveRound(2) = false, want true")
	}
	checkInvariants(t, l)

	balances := l.Balances()
	for _, p := range fourPlayers {
		want := history[0].Get(p).Add(history[2].Get(p))
		if !balances[p].Equal(want) {
			t.Errorf("balance[%s] = %s, want rounds 1+3 = %s", p, balances[p], want)
		}
	}

	txs := l.Transactions()
	if len(txs) != 2 || txs[0].Round != 1 || txs[1].Round != 2 {
		t.Fatalf("rounds after removal: %+v", txs)
	}
	if txs[1].CardCounts["Carol"] != 0 || txs[1].CardCounts["Bob"] != 11 {
		t.Errorf("old round 3 should now be round 2, got %+v", txs[1])
	}
	if !reflect.DeepEqual(l.History()[1], history[2]) {
		t.Errorf("history[1] = %v, want old round 3 %v", l.History()[1], history[2])
	}
}

func TestRemoveRoundOutOfRange(t *testing.T) {
	l, _ := newTestLedger(t)
	mustAdd(t, l, counts(0, 5, 8, 13))
	for _, n := range []int{-1, 0, 2, 100} {
		if l.RemoveRound(n) {
			t.Errorf("RemoveRound(%d) = true, want false", n)
		}
	}
	if l.RoundCount() != 1 {
		t.Errorf("RoundCount() = %d, want 1", l.RoundCount())
	}
}

func TestRandomOperationsKeepBooksBalanced(t *testing.T) {
	l, fake := newTestLedger(t)
	rng := rand.New(rand.NewSource(42))
	values := []string{"0.10", "0.20", "0.25", "1"}

	for i := 0; i < 500; i++ {
		fake.Advance(time.Minute)
		switch op := rng.Intn(10); {
		case op < 6:
			r := counts(rng.Intn(14), rng.Intn(14), rng.Intn(14), rng.Intn(14))
			r.CardValue = d(values[rng.Intn(len(values))])
			if rng.Intn(4) == 0 {
				r.BaoPlayer = fourPlayers[rng.Intn(4)]
			}
			if rng.Intn(4) == 0 {
				r.SpecialHands = map[string]int{fourPlayers[rng.Intn(4)]: 1}
			}
			mustAdd(t, l, r)
		case op < 8:
			l.UndoLastRound()
		default:
			if l.RoundCount() > 0 {
				l.RemoveRound(1 + rng.Intn(l.RoundCount()))
			}
		}
		checkInvariants(t, l)
		if t.Failed() {
			t.Fatalf("invariants broken after step %d", i)
		}
	}
}

func TestDefensiveCopies(t *testing.T) {
	l, _ := newTestLedger(t)
	mustAdd(t, l, counts(0, 5, 8, 13))

	b := l.Balances()
	b["Alice"] = d("1000")
	h := l.History()
	h[0]["Bob"] = d("1000")
	txs := l.Transactions()
	txs[0].CardCounts["Dave"] = 0
	txs[0].Payouts["Dave"] = d("1000")
	p := l.Players()
	p[0] = "Mallory"

	if l.Balances()["Alice"].Equal(d("1000")) {
		t.Errorf("Balances() exposed internal state")
	}
	if l.History()[0]["Bob"].Equal(d("1000")) {
		t.Errorf("History() exposed internal state")
	}
	if l.Transactions()[0].CardCounts["Dave"] != 13 || l.Transactions()[0].Payouts["Dave"].Equal(d("1000")) {
		t.Errorf("Transactions() exposed internal state")
	}
	if l.Players()[0] != "Alice" {
		t.Errorf("Players() exposed internal state")
	}
	checkInvariants(t, l)
}

func TestSetCardValue(t *testing.T) {
	l, _ := newTestLedger(t)
	mustAdd(t, l, counts(0, 1, 1, 1))
	if err := l.SetCardValue(d("0")); !errors.Is(err, badinput.ErrInvalidInput) {
		t.Errorf("SetCardValue(0) error = %v, want invalid input", err)
	}
	if err := l.SetCardValue(d("1")); err != nil {
		t.Fatalf("SetCardValue(1) returned error: %v", err)
	}
	mustAdd(t, l, counts(0, 1, 1, 1))
	txs := l.Transactions()
	if !txs[0].CardValue.Equal(d("0.20")) || !txs[1].CardValue.Equal(d("1")) {
		t.Errorf("card values logged as %s, %s; want 0.20, 1", txs[0].CardValue, txs[1].CardValue)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	l, fake := newTestLedger(t)
	mustAdd(t, l, counts(0, 5, 8, 13))
	fake.Advance(time.Minute)
	mustAdd(t, l, model.Round{
		CardCounts:   map[string]int{"Alice": 3, "Bob": 0, "Carol": 1, "Dave": 2},
		SpecialHands: map[string]int{"Carol": 1},
		BaoPlayer:    "Dave",
	})
	fake.Advance(time.Minute)
	mustAdd(t, l, counts(10, 11, 0, 4))
	l.RemoveRound(1)

	snap := l.ToSnapshot()
	if snap.RoundNum != 3 {
		t.Errorf("RoundNum = %d, want 3", snap.RoundNum)
	}

	restored, err := FromSnapshot(snap, l.clock)
	if err != nil {
		t.Fatalf("FromSnapshot() returned error: %v", err)
	}
	if !reflect.DeepEqual(l, restored) {
		t.Errorf("round trip changed the ledger:\n%+v\n%+v", l, restored)
	}

	// and through JSON, as storage does it
	bytes, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("json.Marshal() returned error: %v", err)
	}
	var decoded model.Snapshot
	if err := json.Unmarshal(bytes, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() returned error: %v", err)
	}
	fromJSON, err := FromSnapshot(&decoded, l.clock)
	if err != nil {
		t.Fatalf("FromSnapshot(decoded) returned error: %v", err)
	}
	checkInvariants(t, fromJSON)
	for p, v := range l.Balances() {
		if !fromJSON.Balances()[p].Equal(v) {
			t.Errorf("balance[%s] = %s after JSON, want %s", p, fromJSON.Balances()[p], v)
		}
	}
	want, got := l.Transactions(), fromJSON.Transactions()
	for i := range want {
		if got[i].Round != want[i].Round || !got[i].Timestamp.Equal(want[i].Timestamp) ||
			!got[i].CardValue.Equal(want[i].CardValue) || got[i].BaoPlayer != want[i].BaoPlayer ||
			!reflect.DeepEqual(got[i].CardCounts, want[i].CardCounts) ||
			!reflect.DeepEqual(got[i].SpecialHands, want[i].SpecialHands) {
			t.Errorf("tx %d = %+v after JSON, want %+v", i, got[i], want[i])
		}
	}

	// the restored ledger keeps working
	if n := mustAdd(t, fromJSON, counts(1, 0, 2, 3)); n != 3 {
		t.Errorf("next round after restore numbered %d, want 3", n)
	}
}

func TestSnapshotRoundTripEmpty(t *testing.T) {
	l, _ := newTestLedger(t)
	mustAdd(t, l, counts(0, 5, 8, 13))
	l.UndoLastRound()

	restored, err := FromSnapshot(l.ToSnapshot(), l.clock)
	if err != nil {
		t.Fatalf("FromSnapshot() returned error: %v", err)
	}
	if !reflect.DeepEqual(l, restored) {
		t.Errorf("round trip changed the ledger:\n%+v\n%+v", l, restored)
	}
}

func TestFromSnapshotRejectsInconsistent(t *testing.T) {
	l, _ := newTestLedger(t)
	mustAdd(t, l, counts(0, 5, 8, 13))
	mustAdd(t, l, counts(3, 0, 1, 2))

	tests := []struct {
		name   string
		mangle func(s *model.Snapshot)
	}{
		{"balance off by a cent", func(s *model.Snapshot) { s.Balances["Alice"] = s.Balances["Alice"].Add(d("0.01")) }},
		{"missing balance", func(s *model.Snapshot) { delete(s.Balances, "Bob") }},
		{"stale round number", func(s *model.Snapshot) { s.RoundNum = 7 }},
		{"log gap", func(s *model.Snapshot) { s.TxLog[1].Round = 3 }},
		{"short column", func(s *model.Snapshot) { s.History["Carol"] = s.History["Carol"][:1] }},
		{"log disagrees", func(s *model.Snapshot) { s.TxLog[0].Payouts["Dave"] = d("0") }},
		{"duplicate player", func(s *model.Snapshot) { s.Players[1] = "Alice" }},
		{"no card value", func(s *model.Snapshot) { s.CardValue = decimal.Zero }},
		{"log pays a stranger", func(s *model.Snapshot) { s.TxLog[0].Payouts["Eve"] = decimal.Zero }},
		{"log missing a payout", func(s *model.Snapshot) { delete(s.TxLog[1].Payouts, "Bob") }},
		{"log counts a stranger", func(s *model.Snapshot) { s.TxLog[0].CardCounts["Eve"] = 4 }},
		{"log missing a card count", func(s *model.Snapshot) { delete(s.TxLog[1].CardCounts, "Carol") }},
		{"stranger swapped into counts", func(s *model.Snapshot) {
			delete(s.TxLog[0].CardCounts, "Dave")
			s.TxLog[0].CardCounts["Eve"] = 13
		}},
		{"special hand for a stranger", func(s *model.Snapshot) { s.TxLog[0].SpecialHands = map[string]int{"Eve": 1} }},
		{"bao for a stranger", func(s *model.Snapshot) { s.TxLog[1].BaoPlayer = "Eve" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := l.ToSnapshot()
			tt.mangle(s)
			if _, err := FromSnapshot(s, l.clock); !errors.Is(err, badinput.ErrInvalidInput) {
				t.Errorf("FromSnapshot() error = %v, want invalid input", err)
			}
		})
	}
}
