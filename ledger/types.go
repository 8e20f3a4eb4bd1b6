package ledger

import (
	"github.com/pkg/errors"
	"github.com/valyala/fastjson"

	"github.com/vibefeed/vibefeed/units"
)

// Post is the ledger's record of a single post. Creator handle is a
// snapshot taken at creation time and may diverge from the creator's
// current handle.
type Post struct {
	ID        uint64
	Creator   string
	Handle    string
	ContentID string
	Points    units.Amount
	CreatedAt int64
}

func (p *Post) unmarshalValue(v *fastjson.Value) error {
	p.ID = v.GetUint64("id")
	p.Creator = string(v.GetStringBytes("creator"))
	p.Handle = string(v.GetStringBytes("handle"))
	p.ContentID = string(v.GetStringBytes("cid"))
	p.CreatedAt = v.GetInt64("created_at")

	points, err := units.FromRawString(string(v.GetStringBytes("points")))
	if err != nil {
		return errors.Wrapf(err, "post %d carries bad points", p.ID)
	}

	p.Points = points

	return nil
}

// StakeInfo mirrors the program's stakes(address) struct.
type StakeInfo struct {
	Amount     units.Amount
	UnlockTime int64
}

// AccountState is the token-side view of an address.
type AccountState struct {
	Balance        units.Amount
	Stake          StakeInfo
	PendingRewards units.Amount
	VotingPower    uint64
}

func (a *AccountState) unmarshalValue(v *fastjson.Value) error {
	var err error

	if a.Balance, err = units.FromRawString(string(v.GetStringBytes("balance"))); err != nil {
		return errors.Wrap(err, "bad balance")
	}

	if a.Stake.Amount, err = units.FromRawString(string(v.GetStringBytes("stake"))); err != nil {
		return errors.Wrap(err, "bad stake amount")
	}

	a.Stake.UnlockTime = v.GetInt64("unlock_time")

	if a.PendingRewards, err = units.FromRawString(string(v.GetStringBytes("pending_rewards"))); err != nil {
		return errors.Wrap(err, "bad pending rewards")
	}

	a.VotingPower = v.GetUint64("voting_power")

	return nil
}

// Event is a program event attached to a transaction receipt.
type Event struct {
	Name   string
	PostID uint64
}

// Receipt is the terminal record of a submitted transaction.
type Receipt struct {
	TxID   string
	Status string // "pending", "applied" or "reverted"
	Reason string
	Events []Event
}

const (
	receiptPending  = "pending"
	receiptApplied  = "applied"
	receiptReverted = "reverted"
)

func (r *Receipt) unmarshalValue(v *fastjson.Value) {
	r.TxID = string(v.GetStringBytes("tx_id"))
	r.Status = string(v.GetStringBytes("status"))
	r.Reason = string(v.GetStringBytes("reason"))

	r.Events = r.Events[:0]
	for _, ev := range v.GetArray("events") {
		r.Events = append(r.Events, Event{
			Name:   string(ev.GetStringBytes("name")),
			PostID: ev.GetUint64("post_id"),
		})
	}
}

// FindEvent returns the first event with the given name.
func (r *Receipt) FindEvent(name string) (Event, bool) {
	for _, ev := range r.Events {
		if ev.Name == name {
			return ev, true
		}
	}

	return Event{}, false
}
