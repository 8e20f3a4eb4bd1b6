package vibefeed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/vibefeed/vibefeed/events"
	"github.com/vibefeed/vibefeed/ledger"
	"github.com/vibefeed/vibefeed/log"
	"github.com/vibefeed/vibefeed/units"
)

// Fast-fail guards, checked against the snapshot before anything is
// submitted. The ledger program enforces the same rules; failing locally
// just spares the user a doomed signature prompt.
var (
	ErrNotRegistered  = errors.New("no handle registered")
	ErrAlreadyLiked   = errors.New("post already liked")
	ErrOwnPost        = errors.New("cannot like your own post")
	ErrStakeTooLow    = errors.New("staked amount below the minimum")
	ErrStakeLocked    = errors.New("staked tokens are still locked")
	ErrNothingStaked  = errors.New("nothing staked")
	ErrNothingToClaim = errors.New("no pending rewards")
	ErrLowBalance     = errors.New("insufficient balance")
)

// run wraps one two-phase write with lifecycle events and metrics.
func (c *Coordinator) run(op string, submit func() (*ledger.Receipt, error)) (*ledger.Receipt, error) {
	c.publish(events.TxSubmitted{Op: op})
	c.metrics.markSubmitted()

	receipt, err := submit()
	if err != nil {
		c.publish(events.TxFailed{Op: op, Reason: err.Error()})
		c.metrics.markFailed()

		return nil, err
	}

	c.publish(events.TxConfirmed{Op: op, TxID: receipt.TxID})
	c.metrics.markConfirmed()

	return receipt, nil
}

func (c *Coordinator) publish(ev interface{}) {
	if c.hub != nil {
		c.hub.Publish(ev)
	}
}

// Register claims a handle for the active account.
func (c *Coordinator) Register(handle string) error {
	addr, err := c.wallet.Address()
	if err != nil {
		return err
	}

	h, err := ValidateHandle(handle)
	if err != nil {
		return err
	}

	if err := c.beginOp(ledger.MethodRegisterUser); err != nil {
		return err
	}
	defer c.endOp(ledger.MethodRegisterUser)

	undo := c.snapshot.StageUser(func(u *UserProfile) {
		u.Handle = h
		u.IsRegistered = true
	})

	if _, err := c.run(ledger.MethodRegisterUser, func() (*ledger.Receipt, error) {
		return c.ledger.RegisterUser(addr, h)
	}); err != nil {
		undo()
		c.metrics.markRolledBack()

		if ledger.IsNotConfirmed(err) {
			c.reconcileUser(addr)
		}

		return err
	}

	c.reconcileUser(addr)

	return nil
}

// ChangeHandle replaces the registered handle.
func (c *Coordinator) ChangeHandle(handle string) error {
	addr, err := c.wallet.Address()
	if err != nil {
		return err
	}

	if !c.snapshot.User().IsRegistered {
		return ErrNotRegistered
	}

	h, err := ValidateHandle(handle)
	if err != nil {
		return err
	}

	if err := c.beginOp(ledger.MethodUpdateHandle); err != nil {
		return err
	}
	defer c.endOp(ledger.MethodUpdateHandle)

	undo := c.snapshot.StageUser(func(u *UserProfile) {
		u.Handle = h
	})

	if _, err := c.run(ledger.MethodUpdateHandle, func() (*ledger.Receipt, error) {
		return c.ledger.UpdateHandle(addr, h)
	}); err != nil {
		undo()
		c.metrics.markRolledBack()

		if ledger.IsNotConfirmed(err) {
			c.reconcileUser(addr)
		}

		return err
	}

	c.reconcileUser(addr)

	return nil
}

// Publish uploads raw content and records a post referencing it. Returns
// the ledger-assigned post id. There is no optimistic insert: the id is
// unknown until the transaction confirms.
func (c *Coordinator) Publish(content []byte) (uint64, error) {
	addr, err := c.wallet.Address()
	if err != nil {
		return 0, err
	}

	if !c.snapshot.User().IsRegistered {
		return 0, ErrNotRegistered
	}

	if err := c.beginOp(ledger.MethodCreatePost); err != nil {
		return 0, err
	}
	defer c.endOp(ledger.MethodCreatePost)

	cid, err := c.gateway.Upload(content)
	if err != nil {
		// Nothing was submitted; the ledger never heard of this post.
		return 0, err
	}

	var id uint64

	if _, err := c.run(ledger.MethodCreatePost, func() (*ledger.Receipt, error) {
		postID, receipt, err := c.ledger.CreatePost(addr, cid)
		if err != nil {
			return nil, err
		}

		id = postID

		return receipt, nil
	}); err != nil {
		if ledger.IsNotConfirmed(err) {
			c.recoverUnconfirmed(ledger.MethodCreatePost, c.Refresh)
		}

		return 0, err
	}

	c.snapshot.AddOwnPost(id)

	if err := c.RefreshPost(id); err != nil {
		log.Sync("publish").Warn().
			Err(err).
			Uint64("id", id).
			Msg("Post confirmed but could not be read back yet.")
	}

	return id, nil
}

// PublishJSON marshals a document, uploads it and records a post.
func (c *Coordinator) PublishJSON(doc interface{}) (uint64, error) {
	content, err := json.Marshal(doc)
	if err != nil {
		return 0, err
	}

	return c.Publish(content)
}

// Like adds the active account's voting weight to a post. The points are
// bumped optimistically and restored exactly if the write fails.
func (c *Coordinator) Like(id uint64) error {
	addr, err := c.wallet.Address()
	if err != nil {
		return err
	}

	post, ok := c.snapshot.Post(id)
	if !ok {
		return errors.Errorf("post %d is not loaded", id)
	}

	if post.Liked {
		return ErrAlreadyLiked
	}

	if post.Creator == addr {
		return ErrOwnPost
	}

	token := c.snapshot.Token()
	if !token.IsStakedEnough {
		return ErrStakeTooLow
	}

	op := fmt.Sprintf("%s:%d", ledger.MethodLikePost, id)

	if err := c.beginOp(op); err != nil {
		return err
	}
	defer c.endOp(op)

	undo, ok := c.snapshot.StageLike(id, units.FromWhole(token.VotingPower))
	if !ok {
		return errors.Errorf("post %d is not loaded", id)
	}

	if _, err := c.run(ledger.MethodLikePost, func() (*ledger.Receipt, error) {
		return c.ledger.LikePost(addr, id)
	}); err != nil {
		undo()
		c.metrics.markRolledBack()

		if ledger.IsNotConfirmed(err) {
			c.recoverLike(addr, id)
		}

		return err
	}

	// The optimistic weight was a local guess; the program's tally wins.
	if err := c.RefreshPost(id); err != nil {
		log.Sync("like").Warn().Err(err).Uint64("id", id).Msg("Failed to read the post back.")
	}

	return nil
}

// Stake locks tokens for voting weight and rewards.
func (c *Coordinator) Stake(amount units.Amount) error {
	addr, err := c.wallet.Address()
	if err != nil {
		return err
	}

	if amount.IsZero() {
		return errors.Wrap(units.ErrBadAmount, "stake amount must be positive")
	}

	if c.snapshot.Token().Balance.Cmp(amount) < 0 {
		return ErrLowBalance
	}

	if err := c.beginOp(ledger.MethodStake); err != nil {
		return err
	}
	defer c.endOp(ledger.MethodStake)

	undo := c.snapshot.StageToken(func(t *TokenAccount) {
		t.Balance = t.Balance.Sub(amount)
		t.Staked = t.Staked.Add(amount)
	})

	if _, err := c.run(ledger.MethodStake, func() (*ledger.Receipt, error) {
		return c.ledger.Stake(addr, amount)
	}); err != nil {
		undo()
		c.metrics.markRolledBack()

		if ledger.IsNotConfirmed(err) {
			c.recoverUnconfirmed(ledger.MethodStake, c.RefreshAccount)
		}

		return err
	}

	return c.RefreshAccount()
}

// Unstake withdraws stake. A zero amount withdraws everything.
func (c *Coordinator) Unstake(amount units.Amount) error {
	addr, err := c.wallet.Address()
	if err != nil {
		return err
	}

	token := c.snapshot.Token()

	if token.Staked.IsZero() {
		return ErrNothingStaked
	}

	if token.UnlockRemaining(time.Now()) > 0 {
		return ErrStakeLocked
	}

	withdraw := amount
	if withdraw.IsZero() {
		withdraw = token.Staked
	}

	if token.Staked.Cmp(withdraw) < 0 {
		return ErrLowBalance
	}

	if err := c.beginOp(ledger.MethodUnstake); err != nil {
		return err
	}
	defer c.endOp(ledger.MethodUnstake)

	undo := c.snapshot.StageToken(func(t *TokenAccount) {
		t.Staked = t.Staked.Sub(withdraw)
		t.Balance = t.Balance.Add(withdraw)
	})

	if _, err := c.run(ledger.MethodUnstake, func() (*ledger.Receipt, error) {
		return c.ledger.Unstake(addr, amount)
	}); err != nil {
		undo()
		c.metrics.markRolledBack()

		if ledger.IsNotConfirmed(err) {
			c.recoverUnconfirmed(ledger.MethodUnstake, c.RefreshAccount)
		}

		return err
	}

	return c.RefreshAccount()
}

// Claim moves pending rewards into the balance.
func (c *Coordinator) Claim() error {
	addr, err := c.wallet.Address()
	if err != nil {
		return err
	}

	if c.snapshot.Token().PendingRewards.IsZero() {
		return ErrNothingToClaim
	}

	if err := c.beginOp(ledger.MethodClaimRewards); err != nil {
		return err
	}
	defer c.endOp(ledger.MethodClaimRewards)

	undo := c.snapshot.StageToken(func(t *TokenAccount) {
		t.Balance = t.Balance.Add(t.PendingRewards)
		t.PendingRewards = units.Zero()
	})

	if _, err := c.run(ledger.MethodClaimRewards, func() (*ledger.Receipt, error) {
		return c.ledger.ClaimRewards(addr)
	}); err != nil {
		undo()
		c.metrics.markRolledBack()

		if ledger.IsNotConfirmed(err) {
			c.recoverUnconfirmed(ledger.MethodClaimRewards, c.RefreshAccount)
		}

		return err
	}

	return c.RefreshAccount()
}

// DistributeRewards triggers the weekly payout. The program reverts for
// anyone but the owner; there is nothing to patch optimistically.
func (c *Coordinator) DistributeRewards() error {
	addr, err := c.wallet.Address()
	if err != nil {
		return err
	}

	if err := c.beginOp(ledger.MethodDistributeRewards); err != nil {
		return err
	}
	defer c.endOp(ledger.MethodDistributeRewards)

	if _, err := c.run(ledger.MethodDistributeRewards, func() (*ledger.Receipt, error) {
		return c.ledger.DistributeWeeklyRewards(addr)
	}); err != nil {
		if ledger.IsNotConfirmed(err) {
			c.recoverUnconfirmed(ledger.MethodDistributeRewards, c.RefreshTrending, c.RefreshAccount)
		}

		return err
	}

	if err := c.RefreshTrending(); err != nil {
		return err
	}

	return c.RefreshAccount()
}

// recoverUnconfirmed re-reads authoritative state after a confirmation
// timeout. The transaction may still land; retrying the same action
// against the rolled-back local state would risk a double submit, so the
// ledger's view has to be installed first.
func (c *Coordinator) recoverUnconfirmed(op string, refresh ...func() error) {
	for _, fn := range refresh {
		if err := fn(); err != nil {
			log.Sync("unconfirmed").Warn().
				Err(err).
				Str("op", op).
				Msg("Failed to re-read state after a confirmation timeout.")
		}
	}
}

// recoverLike re-reads a post's tally and the account's liked flag for it
// after a confirmation timeout.
func (c *Coordinator) recoverLike(addr string, id uint64) {
	if err := c.RefreshPost(id); err != nil {
		log.Sync("unconfirmed").Warn().Err(err).Uint64("id", id).Msg("Failed to re-read the post after a confirmation timeout.")
		return
	}

	liked, err := c.ledger.IsPostLikedBy(id, addr)
	if err != nil {
		log.Sync("unconfirmed").Warn().Err(err).Uint64("id", id).Msg("Failed to re-read the liked flag after a confirmation timeout.")
		return
	}

	c.snapshot.SetLiked(id, liked)
}

func (c *Coordinator) reconcileUser(addr string) {
	handle, err := c.ledger.HandleOf(addr)
	if err != nil {
		log.Sync("reconcile").Warn().Err(err).Msg("Failed to read the handle back.")
		return
	}

	c.snapshot.ApplyUser(handle)
}
