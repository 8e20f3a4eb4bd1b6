package ledger

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/vibefeed/vibefeed/units"
)

// HandleOf returns the registered handle for an address, or "" when the
// address has never registered.
func (c *Client) HandleOf(address string) (string, error) {
	res, err := c.get(RouteUsers + "/" + address)
	if err != nil {
		return "", err
	}

	v, done, err := c.parse(res)
	if err != nil {
		return "", err
	}
	defer done()

	return string(v.GetStringBytes("handle")), nil
}

// MyPostIDs returns the ids of every post created by the address, in the
// ledger's order.
func (c *Client) MyPostIDs(address string) ([]uint64, error) {
	res, err := c.get(RouteUsers + "/" + address + "/posts")
	if err != nil {
		return nil, err
	}

	v, done, err := c.parse(res)
	if err != nil {
		return nil, err
	}
	defer done()

	var ids []uint64
	for _, id := range v.GetArray("ids") {
		ids = append(ids, id.GetUint64())
	}

	return ids, nil
}

// GetPost fetches a single post record.
func (c *Client) GetPost(id uint64) (*Post, error) {
	res, err := c.get(fmt.Sprintf("%s/%d", RoutePosts, id))
	if err != nil {
		return nil, err
	}

	v, done, err := c.parse(res)
	if err != nil {
		return nil, err
	}
	defer done()

	var post Post
	if err := post.unmarshalValue(v); err != nil {
		return nil, err
	}

	return &post, nil
}

// GetAllPosts is the bulk load: parallel arrays in ledger-reported order.
func (c *Client) GetAllPosts() ([]Post, error) {
	res, err := c.get(RoutePosts)
	if err != nil {
		return nil, err
	}

	v, done, err := c.parse(res)
	if err != nil {
		return nil, err
	}
	defer done()

	items := v.GetArray("posts")
	posts := make([]Post, 0, len(items))

	for _, item := range items {
		var post Post
		if err := post.unmarshalValue(item); err != nil {
			return nil, errors.Wrap(err, "bad post in bulk response")
		}

		posts = append(posts, post)
	}

	return posts, nil
}

// TrendingPostIDs returns the ledger-ranked weekly trending ids. Their
// order is authoritative and must not be re-sorted client-side.
func (c *Client) TrendingPostIDs() ([]uint64, error) {
	res, err := c.get(RouteTrending)
	if err != nil {
		return nil, err
	}

	v, done, err := c.parse(res)
	if err != nil {
		return nil, err
	}
	defer done()

	var ids []uint64
	for _, id := range v.GetArray("ids") {
		ids = append(ids, id.GetUint64())
	}

	return ids, nil
}

// IsPostLikedBy reports whether the address already liked the post.
func (c *Client) IsPostLikedBy(id uint64, address string) (bool, error) {
	res, err := c.get(fmt.Sprintf("%s/%d/liked/%s", RoutePosts, id, address))
	if err != nil {
		return false, err
	}

	v, done, err := c.parse(res)
	if err != nil {
		return false, err
	}
	defer done()

	return v.GetBool("liked"), nil
}

// GetAccount fetches the token-side state of an address in one call.
func (c *Client) GetAccount(address string) (*AccountState, error) {
	res, err := c.get(RouteAccounts + "/" + address)
	if err != nil {
		return nil, err
	}

	v, done, err := c.parse(res)
	if err != nil {
		return nil, err
	}
	defer done()

	var account AccountState
	if err := account.unmarshalValue(v); err != nil {
		return nil, err
	}

	return &account, nil
}

// BalanceOf returns just the spendable balance of an address.
func (c *Client) BalanceOf(address string) (units.Amount, error) {
	account, err := c.GetAccount(address)
	if err != nil {
		return units.Zero(), err
	}

	return account.Balance, nil
}

// StakeOf returns the staked amount and its unlock time.
func (c *Client) StakeOf(address string) (StakeInfo, error) {
	account, err := c.GetAccount(address)
	if err != nil {
		return StakeInfo{}, err
	}

	return account.Stake, nil
}

// PendingRewards returns the unclaimed reward balance.
func (c *Client) PendingRewards(address string) (units.Amount, error) {
	account, err := c.GetAccount(address)
	if err != nil {
		return units.Zero(), err
	}

	return account.PendingRewards, nil
}

// VotingPowerOf returns the program-computed voting power.
func (c *Client) VotingPowerOf(address string) (uint64, error) {
	account, err := c.GetAccount(address)
	if err != nil {
		return 0, err
	}

	return account.VotingPower, nil
}

// Owner returns the program administrator's address.
func (c *Client) Owner() (string, error) {
	res, err := c.get(RouteOwner)
	if err != nil {
		return "", err
	}

	v, done, err := c.parse(res)
	if err != nil {
		return "", err
	}
	defer done()

	return string(v.GetStringBytes("address")), nil
}
