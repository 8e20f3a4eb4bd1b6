package ledger

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/vibefeed/vibefeed/conf"
	"github.com/vibefeed/vibefeed/log"
	"github.com/vibefeed/vibefeed/units"
)

// Program method names, part of the external contract.
const (
	MethodRegisterUser      = "registerUser"
	MethodUpdateHandle      = "updateHandle"
	MethodCreatePost        = "createPost"
	MethodLikePost          = "likePost"
	MethodStake             = "stake"
	MethodUnstake           = "unstake"
	MethodClaimRewards      = "claimRewards"
	MethodDistributeRewards = "distributeWeeklyRewards"

	EventPostCreated = "PostCreated"
)

// SendTransaction submits one program call and returns the transaction id.
// Submission is phase one of a write; inclusion is awaited separately.
// A declined wallet prompt surfaces as a revert, not a timeout.
func (c *Client) SendTransaction(sender, method string, params ...string) (string, error) {
	arena := c.arenas.Get()
	defer func() {
		arena.Reset()
		c.arenas.Put(arena)
	}()

	body := arena.NewObject()
	body.Set("sender", arena.NewString(sender))
	body.Set("method", arena.NewString(method))

	list := arena.NewArray()
	for i, p := range params {
		list.SetArrayItem(i, arena.NewString(p))
	}
	body.Set("params", list)

	res, err := c.Request(RouteTxSend, ReqPost, body.MarshalTo(nil))
	if err != nil {
		if reqErr, ok := errors.Cause(err).(*RequestError); ok {
			return "", &RevertError{Method: method, Reason: reqErr.ErrorString}
		}

		return "", err
	}

	v, done, err := c.parse(res)
	if err != nil {
		return "", err
	}
	defer done()

	txID := string(v.GetStringBytes("tx_id"))
	if txID == "" {
		return "", errors.New("node returned no transaction id")
	}

	log.Ledger("submitted").Debug().
		Str("tx_id", txID).
		Str("method", method).
		Msg("Transaction submitted.")

	return txID, nil
}

// GetReceipt fetches the current receipt for a transaction.
func (c *Client) GetReceipt(txID string) (*Receipt, error) {
	res, err := c.get(RouteTx + "/" + txID)
	if err != nil {
		return nil, err
	}

	v, done, err := c.parse(res)
	if err != nil {
		return nil, err
	}
	defer done()

	var receipt Receipt
	receipt.unmarshalValue(v)

	return &receipt, nil
}

// AwaitReceipt polls until the transaction reaches a terminal state or the
// confirmation window closes. A reverted transaction comes back as a
// RevertError carrying the program's reason; a window timeout comes back
// as ErrNotConfirmed, and the caller must re-read state before retrying
// the logical action — the transaction may still land.
func (c *Client) AwaitReceipt(method, txID string) (*Receipt, error) {
	deadline := time.Now().Add(conf.GetConfirmTimeout())

	for {
		receipt, err := c.GetReceipt(txID)
		if err != nil && !IsTransient(err) {
			return nil, err
		}

		if err == nil {
			switch receipt.Status {
			case receiptApplied:
				log.Ledger("confirmed").Debug().
					Str("tx_id", txID).
					Str("method", method).
					Msg("Transaction confirmed.")

				return receipt, nil
			case receiptReverted:
				return nil, &RevertError{Method: method, Reason: receipt.Reason}
			}
		}

		if time.Now().After(deadline) {
			return nil, errors.Wrapf(ErrNotConfirmed, "%s tx %s", method, txID)
		}

		time.Sleep(conf.GetConfirmPollInterval())
	}
}

// call is the full two-phase write: submit, then await inclusion.
func (c *Client) call(sender, method string, params ...string) (*Receipt, error) {
	txID, err := c.SendTransaction(sender, method, params...)
	if err != nil {
		return nil, err
	}

	return c.AwaitReceipt(method, txID)
}

// RegisterUser claims a handle for the sender.
func (c *Client) RegisterUser(sender, handle string) (*Receipt, error) {
	return c.call(sender, MethodRegisterUser, handle)
}

// UpdateHandle replaces the sender's handle.
func (c *Client) UpdateHandle(sender, handle string) (*Receipt, error) {
	return c.call(sender, MethodUpdateHandle, handle)
}

// CreatePost records a post pointing at uploaded content and returns the
// ledger-assigned post id, extracted from the PostCreated event rather
// than guessed client-side.
func (c *Client) CreatePost(sender, contentID string) (uint64, *Receipt, error) {
	receipt, err := c.call(sender, MethodCreatePost, contentID)
	if err != nil {
		return 0, nil, err
	}

	ev, ok := receipt.FindEvent(EventPostCreated)
	if !ok {
		return 0, nil, errors.Errorf("confirmed %s carried no %s event", MethodCreatePost, EventPostCreated)
	}

	return ev.PostID, receipt, nil
}

// LikePost adds the sender's voting weight to a post.
func (c *Client) LikePost(sender string, id uint64) (*Receipt, error) {
	return c.call(sender, MethodLikePost, fmt.Sprintf("%d", id))
}

// Stake locks tokens for voting weight and rewards.
func (c *Client) Stake(sender string, amount units.Amount) (*Receipt, error) {
	return c.call(sender, MethodStake, amount.RawString())
}

// Unstake withdraws stake. A zero amount submits the program's
// no-argument full-withdrawal form; a positive amount submits the partial
// form. Which forms exist is the program's business: a revert is passed
// through untouched.
func (c *Client) Unstake(sender string, amount units.Amount) (*Receipt, error) {
	if amount.IsZero() {
		return c.call(sender, MethodUnstake)
	}

	return c.call(sender, MethodUnstake, amount.RawString())
}

// ClaimRewards moves pending rewards into the sender's balance.
func (c *Client) ClaimRewards(sender string) (*Receipt, error) {
	return c.call(sender, MethodClaimRewards)
}

// DistributeWeeklyRewards triggers the weekly payout. Owner-gated by the
// program; anyone else gets a revert.
func (c *Client) DistributeWeeklyRewards(sender string) (*Receipt, error) {
	return c.call(sender, MethodDistributeRewards)
}
