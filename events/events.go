// Package events carries change notifications from the snapshot store and
// the sync coordinator out to subscribers (CLI, HTTP API).
package events

// UserUpdated fires after the user slice of the snapshot changes.
type UserUpdated struct {
	Address      string   `json:"address"`
	Handle       string   `json:"handle"`
	IsRegistered bool     `json:"is_registered"`
	PostIDs      []uint64 `json:"post_ids"`
}

// TokenUpdated fires after the token slice of the snapshot changes.
type TokenUpdated struct {
	Balance        string `json:"balance"`
	StakedAmount   string `json:"staked_amount"`
	PendingRewards string `json:"pending_rewards"`
	VotingPower    uint64 `json:"voting_power"`
	IsStakedEnough bool   `json:"is_staked_enough"`
}

// PostUpserted fires for every post insert or merge.
type PostUpserted struct {
	ID        uint64 `json:"id"`
	Creator   string `json:"creator"`
	Handle    string `json:"handle"`
	ContentID string `json:"cid"`
	Points    string `json:"points"`
	Liked     bool   `json:"liked"`
}

// TrendingReplaced fires when the trending sequence is swapped out.
type TrendingReplaced struct {
	IDs []uint64 `json:"ids"`
}

// SessionReset fires when the snapshot is cleared (disconnect or account
// change).
type SessionReset struct {
	Address string `json:"address"`
}

type txUpdate struct {
	Op     string `json:"op"`
	TxID   string `json:"tx_id"`
	Reason string `json:"reason,omitempty"`
}

// Transaction lifecycle events, one per phase of a write.
type TxSubmitted txUpdate
type TxConfirmed txUpdate
type TxFailed txUpdate
