// Copyright (c) 2024 VibeFeed
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

package vibefeed

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/vibefeed/vibefeed/conf"
	"github.com/vibefeed/vibefeed/events"
	"github.com/vibefeed/vibefeed/gateway"
	"github.com/vibefeed/vibefeed/ledger"
	"github.com/vibefeed/vibefeed/log"
	"github.com/vibefeed/vibefeed/provider"
	"github.com/vibefeed/vibefeed/wallet"
)

// ErrBusy is returned when the same operation is already in flight. One
// write per operation at a time: a second like or stake submitted before
// the first settles would make rollback ambiguous.
var ErrBusy = errors.New("operation already in flight")

// State is the coordinator's synchronization state.
type State int

const (
	// StateIdle means no session: nothing loaded, nothing loading.
	StateIdle State = iota

	// StateLoading means a session exists and a full load is in flight.
	StateLoading

	// StateReady means the snapshot holds a complete load.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "idle"
	}
}

// Coordinator drives the session lifecycle: connect, load the snapshot,
// apply writes optimistically, reconcile against the ledger, and tear
// everything down when the wallet goes away.
type Coordinator struct {
	mu sync.Mutex

	state State
	epoch uint64

	pending map[string]struct{}

	wallet   *wallet.Manager
	ledger   *ledger.Client
	gateway  *gateway.Client
	snapshot *Snapshot
	hub      *events.Hub
	metrics  *Metrics
}

// NewCoordinator wires a provider, a ledger client and a gateway client
// into one session driver. The metrics argument may be nil.
func NewCoordinator(prov provider.Provider, lc *ledger.Client, gc *gateway.Client, hub *events.Hub, metrics *Metrics) *Coordinator {
	c := &Coordinator{
		pending:  make(map[string]struct{}),
		ledger:   lc,
		gateway:  gc,
		snapshot: NewSnapshot(hub),
		hub:      hub,
		metrics:  metrics,
	}

	c.wallet = wallet.NewManager(prov, wallet.Hooks{
		OnAccountChanged: c.accountChanged,
		OnDisconnected:   c.sessionEnded,
		OnNetworkChanged: c.networkChanged,
	})

	return c
}

// Wallet exposes the connection manager.
func (c *Coordinator) Wallet() *wallet.Manager {
	return c.wallet
}

// Snapshot exposes the observable state.
func (c *Coordinator) Snapshot() *Snapshot {
	return c.snapshot
}

// Metrics exposes the session counters, or nil when collection is off.
func (c *Coordinator) Metrics() *Metrics {
	return c.metrics
}

// State returns the current synchronization state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Connect establishes a session end to end: wallet access, network check,
// full snapshot load. Returns the active address.
func (c *Coordinator) Connect() (string, error) {
	addr, err := c.wallet.Connect()
	if err != nil {
		return "", err
	}

	if err := c.wallet.EnsureNetwork(conf.GetChainID()); err != nil {
		c.wallet.Disconnect()
		return "", err
	}

	c.snapshot.Reset(addr)

	if err := c.load(addr); err != nil {
		return "", err
	}

	return addr, nil
}

// Disconnect ends the session. Idempotent.
func (c *Coordinator) Disconnect() {
	c.wallet.Disconnect()

	// The wallet hook only fires on a transition; make sure a repeat
	// call still leaves the coordinator idle.
	c.sessionEnded()
}

// Refresh reloads the full snapshot for the active session.
func (c *Coordinator) Refresh() error {
	addr, err := c.wallet.Address()
	if err != nil {
		return err
	}

	return c.load(addr)
}

// load performs a full fetch and applies it atomically. Every load bumps
// the epoch; a load that finishes after the session moved on is discarded
// rather than applied over newer state.
func (c *Coordinator) load(addr string) error {
	c.mu.Lock()
	c.state = StateLoading
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	sample := newLoadSample(c.metrics)

	handle, err := c.ledger.HandleOf(addr)
	if err != nil {
		return c.loadFailed(epoch, err)
	}

	mine, err := c.ledger.MyPostIDs(addr)
	if err != nil {
		return c.loadFailed(epoch, err)
	}

	acct, err := c.ledger.GetAccount(addr)
	if err != nil {
		return c.loadFailed(epoch, err)
	}

	posts, err := c.ledger.GetAllPosts()
	if err != nil {
		return c.loadFailed(epoch, err)
	}

	trending, err := c.ledger.TrendingPostIDs()
	if err != nil {
		return c.loadFailed(epoch, err)
	}

	// Bootstrap the liked set, bounded by what the bulk load returned.
	liked := make(map[uint64]bool, len(posts))

	for _, post := range posts {
		isLiked, err := c.ledger.IsPostLikedBy(post.ID, addr)
		if err != nil {
			return c.loadFailed(epoch, err)
		}

		if isLiked {
			liked[post.ID] = true
		}
	}

	c.mu.Lock()

	if c.epoch != epoch {
		c.mu.Unlock()

		log.Sync("load").Debug().
			Uint64("epoch", epoch).
			Msg("Discarded a stale load.")

		return nil
	}

	// The ledger reports own posts oldest first; the profile shows them
	// newest first, matching the feed.
	ownIDs := make([]uint64, 0, len(mine))
	for i := len(mine) - 1; i >= 0; i-- {
		ownIDs = append(ownIDs, mine[i])
	}

	user := UserProfile{
		Address:      addr,
		Handle:       handle,
		IsRegistered: handle != "",
		PostIDs:      ownIDs,
	}

	c.snapshot.ApplyLoad(user, acct, posts, liked, trending)
	c.state = StateReady

	c.mu.Unlock()

	sample.done()

	log.Sync("load").Info().
		Str("address", addr).
		Int("posts", len(posts)).
		Int("trending", len(trending)).
		Msg("Snapshot loaded.")

	return nil
}

func (c *Coordinator) loadFailed(epoch uint64, err error) error {
	c.mu.Lock()

	if c.epoch == epoch && c.state == StateLoading {
		c.state = StateIdle
	}

	c.mu.Unlock()

	return errors.Wrap(err, "snapshot load failed")
}

// RefreshAccount re-reads the token slice.
func (c *Coordinator) RefreshAccount() error {
	addr, err := c.wallet.Address()
	if err != nil {
		return err
	}

	acct, err := c.ledger.GetAccount(addr)
	if err != nil {
		return err
	}

	c.snapshot.ApplyAccount(acct)

	return nil
}

// RefreshPost re-reads one post.
func (c *Coordinator) RefreshPost(id uint64) error {
	post, err := c.ledger.GetPost(id)
	if err != nil {
		return err
	}

	c.snapshot.UpsertPost(*post)

	return nil
}

// RefreshTrending re-reads the ranked trending list, fetching any post
// the snapshot has not loaded yet so that every ranked id resolves.
func (c *Coordinator) RefreshTrending() error {
	ids, err := c.ledger.TrendingPostIDs()
	if err != nil {
		return err
	}

	for _, id := range ids {
		if _, ok := c.snapshot.Post(id); ok {
			continue
		}

		post, err := c.ledger.GetPost(id)
		if err != nil {
			return err
		}

		// Ranked posts the bulk load never saw are historical; they join
		// the back of the feed, not the front.
		c.snapshot.BackfillPost(*post)
	}

	c.snapshot.ReplaceTrending(ids)

	return nil
}

// FetchContent resolves a post's content id to the bytes behind it.
func (c *Coordinator) FetchContent(id uint64) ([]byte, error) {
	view, ok := c.snapshot.Post(id)
	if !ok {
		return nil, errors.Errorf("post %d is not loaded", id)
	}

	return c.gateway.Fetch(view.ContentID)
}

func (c *Coordinator) beginOp(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.pending[name]; busy {
		return errors.Wrap(ErrBusy, name)
	}

	c.pending[name] = struct{}{}

	return nil
}

func (c *Coordinator) endOp(name string) {
	c.mu.Lock()
	delete(c.pending, name)
	c.mu.Unlock()
}

// accountChanged restarts the session for the new address. The old
// snapshot is gone before the first fetch for the new account lands.
func (c *Coordinator) accountChanged(addr string) {
	c.snapshot.Reset(addr)

	if err := c.load(addr); err != nil {
		log.Sync("account_changed").Warn().
			Err(err).
			Str("address", addr).
			Msg("Failed to load the snapshot for the new account.")
	}
}

func (c *Coordinator) sessionEnded() {
	c.mu.Lock()

	wasIdle := c.state == StateIdle
	c.state = StateIdle
	c.epoch++

	c.mu.Unlock()

	if !wasIdle {
		c.snapshot.Reset("")
	}
}

// networkChanged tears the session down. Program bindings are
// network-specific; the host must reconnect on the expected network.
func (c *Coordinator) networkChanged(chainID uint64) {
	log.Sync("network_changed").Warn().
		Uint64("chain_id", chainID).
		Msg("Network changed; ending the session.")

	c.Disconnect()
}
