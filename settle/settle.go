// Package settle converts one round's card counts into a zero-sum payout
// vector.  It is stateless and does no I/O.
//
// Settlement happens in layers that are each zero-sum on their own:
//
//   - pairwise: every player pays every player holding fewer cards the
//     difference, scaled by a multiplier when the payer is stuck with a lot
//     of cards;
//   - winner bonus: each player who went out collects two cards' worth from
//     each player who didn't;
//   - bao: one player can take on everybody else's losses from the two
//     layers above;
//   - special hands: each declared special hand collects five cards' worth
//     from every other player, regardless of bao.
//
// All arithmetic is exact decimal; nothing is rounded here.
package settle

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ts4z/taidi/badinput"
	"github.com/ts4z/taidi/model"
)

const (
	winnerBonusCards = 2
	specialHandCards = 5
)

// Thresholds are the card counts at which a payer's multiplier kicks up.
type Thresholds struct {
	Double int // 2x at or above this many cards
	Triple int // 3x at or above this many cards
}

var (
	fourPlayerThresholds  = Thresholds{Double: 10, Triple: 13}
	threePlayerThresholds = Thresholds{Double: 12, Triple: 15}
)

// ThresholdsFor returns the multiplier thresholds for a table size.  Only
// three- and four-handed games have their own rules; everything else plays
// with the four-handed numbers.
func ThresholdsFor(numPlayers int) Thresholds {
	if numPlayers == 3 {
		return threePlayerThresholds
	}
	return fourPlayerThresholds
}

// Multiplier is what a payer holding cards pays per card of difference.
func (th Thresholds) Multiplier(cards int) int64 {
	switch {
	case cards >= th.Triple:
		return 3
	case cards >= th.Double:
		return 2
	default:
		return 1
	}
}

// ComputePayouts settles one round.  An empty round settles to an empty
// vector.
func ComputePayouts(r model.Round) (model.Payouts, error) {
	if len(r.CardCounts) == 0 {
		return model.Payouts{}, nil
	}
	if err := validate(r); err != nil {
		return nil, err
	}

	players := make([]string, 0, len(r.CardCounts))
	for p := range r.CardCounts {
		players = append(players, p)
	}
	sort.Strings(players)

	cards := cardLayer(players, r.CardCounts, r.CardValue)
	if r.BaoPlayer != "" {
		applyBao(players, cards, r.BaoPlayer)
	}
	special := specialHandLayer(players, r.SpecialHands, r.CardValue)

	payouts := make(model.Payouts, len(players))
	for _, p := range players {
		payouts[p] = cards[p].Add(special[p])
	}
	return payouts, nil
}

func validate(r model.Round) error {
	if !r.CardValue.IsPositive() {
		return badinput.Errorf("card value must be positive, got %s", r.CardValue)
	}
	for p, n := range r.CardCounts {
		if p == "" {
			return badinput.Errorf("card counts include an unnamed player")
		}
		if n < 0 {
			return badinput.Errorf("card count for %q is negative (%d)", p, n)
		}
	}
	for p, n := range r.SpecialHands {
		if _, ok := r.CardCounts[p]; !ok {
			return badinput.Errorf("special hands declared by %q, who isn't in this round", p)
		}
		if n < 0 {
			return badinput.Errorf("special hand count for %q is negative (%d)", p, n)
		}
	}
	if r.BaoPlayer != "" {
		if _, ok := r.CardCounts[r.BaoPlayer]; !ok {
			return badinput.Errorf("bao player %q isn't in this round", r.BaoPlayer)
		}
	}
	return nil
}

// cardLayer is the pairwise settlement plus the winner bonus.
func cardLayer(players []string, counts map[string]int, value decimal.Decimal) model.Payouts {
	th := ThresholdsFor(len(players))
	net := zeroed(players)

	for _, payer := range players {
		payerCards := counts[payer]
		mult := decimal.NewFromInt(th.Multiplier(payerCards))
		for _, receiver := range players {
			if receiver == payer || payerCards <= counts[receiver] {
				continue
			}
			diff := decimal.NewFromInt(int64(payerCards - counts[receiver]))
			payment := diff.Mul(value).Mul(mult)
			net[payer] = net[payer].Sub(payment)
			net[receiver] = net[receiver].Add(payment)
		}
	}

	bonus := value.Mul(decimal.NewFromInt(winnerBonusCards))
	for _, winner := range players {
		if counts[winner] != 0 {
			continue
		}
		for _, p := range players {
			if counts[p] == 0 {
				// winners don't pay each other
				continue
			}
			net[p] = net[p].Sub(bonus)
			net[winner] = net[winner].Add(bonus)
		}
	}
	return net
}

// applyBao moves every other player's card-layer loss onto the bao player.
func applyBao(players []string, net model.Payouts, bao string) {
	for _, p := range players {
		if p == bao || !net[p].IsNegative() {
			continue
		}
		net[bao] = net[bao].Add(net[p])
		net[p] = decimal.Zero
	}
}

func specialHandLayer(players []string, hands map[string]int, value decimal.Decimal) model.Payouts {
	net := zeroed(players)
	perUnit := value.Mul(decimal.NewFromInt(specialHandCards))
	for _, holder := range players {
		n := hands[holder]
		if n <= 0 {
			continue
		}
		amount := perUnit.Mul(decimal.NewFromInt(int64(n)))
		for _, p := range players {
			if p == holder {
				continue
			}
			net[p] = net[p].Sub(amount)
			net[holder] = net[holder].Add(amount)
		}
	}
	return net
}

func zeroed(players []string) model.Payouts {
	m := make(model.Payouts, len(players))
	for _, p := range players {
		m[p] = decimal.Zero
	}
	return m
}
