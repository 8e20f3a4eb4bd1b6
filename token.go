package vibefeed

import (
	"time"

	"github.com/vibefeed/vibefeed/ledger"
	"github.com/vibefeed/vibefeed/sys"
	"github.com/vibefeed/vibefeed/units"
)

// TokenAccount is the token slice of the snapshot. VotingPower and
// IsStakedEnough are derived from the staked amount and recomputed on
// every mutation that touches it; the ledger's own figures win on an
// authoritative merge.
type TokenAccount struct {
	Balance        units.Amount
	Staked         units.Amount
	UnlockTime     int64
	PendingRewards units.Amount
	VotingPower    uint64
	IsStakedEnough bool
}

func (t *TokenAccount) recompute() {
	t.VotingPower = t.Staked.DivWhole(sys.VotingPowerDivisor)
	t.IsStakedEnough = t.Staked.Cmp(units.FromWhole(sys.MinStakeTokens)) >= 0
}

func (t *TokenAccount) setFromLedger(acct *ledger.AccountState) {
	t.Balance = acct.Balance
	t.Staked = acct.Stake.Amount
	t.UnlockTime = acct.Stake.UnlockTime
	t.PendingRewards = acct.PendingRewards
	t.VotingPower = acct.VotingPower
	t.IsStakedEnough = t.Staked.Cmp(units.FromWhole(sys.MinStakeTokens)) >= 0
}

// UnlockRemaining is the time left until staked tokens may be withdrawn.
// Zero once the lock has expired.
func (t *TokenAccount) UnlockRemaining(now time.Time) time.Duration {
	unlock := time.Unix(t.UnlockTime, 0)

	if !unlock.After(now) {
		return 0
	}

	return unlock.Sub(now)
}
