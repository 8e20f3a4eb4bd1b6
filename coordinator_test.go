package vibefeed

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phayes/freeport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibefeed/vibefeed/conf"
	"github.com/vibefeed/vibefeed/events"
	"github.com/vibefeed/vibefeed/gateway"
	"github.com/vibefeed/vibefeed/ledger"
	"github.com/vibefeed/vibefeed/provider"
	"github.com/vibefeed/vibefeed/units"
)

const (
	aliceAddr = "0x477922afbac2a4184eb6452d7718cc4090cbc35a"
	bobAddr   = "0x8f1b3c9a0de4f5a6b7c8d9e0f1a2b3c4d5e6f7a8"
)

type txOutcome struct {
	status  string
	reason  string
	events  []map[string]interface{}
	applied func(n *testNode)
}

// testNode scripts one ledger node and one content gateway on the same
// listener.
type testNode struct {
	sync.Mutex

	handles  map[string]string
	accounts map[string]map[string]string
	posts    map[uint64]map[string]interface{}
	order    []uint64
	trending []uint64
	liked    map[string]bool

	outcomes map[string]txOutcome
	txMethod map[string]string
	nextTx   int

	content map[string][]byte
	nextCID int
}

func newTestNode(t *testing.T) (*testNode, string) {
	t.Helper()

	port, err := freeport.GetFreePort()
	require.NoError(t, err)

	n := &testNode{
		handles:  make(map[string]string),
		accounts: make(map[string]map[string]string),
		posts:    make(map[uint64]map[string]interface{}),
		liked:    make(map[string]bool),
		outcomes: make(map[string]txOutcome),
		txMethod: make(map[string]string),
		content:  make(map[string][]byte),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", n.handle)

	srv := &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", port), Handler: mux}

	ln, err := net.Listen("tcp", srv.Addr)
	require.NoError(t, err)

	go func() {
		_ = srv.Serve(ln)
	}()

	t.Cleanup(func() {
		_ = srv.Close()
	})

	return n, fmt.Sprintf("http://127.0.0.1:%d", port)
}

func (n *testNode) setAccount(addr, balance, stake string, votingPower uint64) {
	n.Lock()
	defer n.Unlock()

	n.accounts[addr] = map[string]string{
		"balance":         units.MustParse(balance).RawString(),
		"stake":           units.MustParse(stake).RawString(),
		"pending_rewards": "0",
		"voting_power":    strconv.FormatUint(votingPower, 10),
	}
}

func (n *testNode) addPost(id uint64, creator, points string) {
	n.Lock()
	defer n.Unlock()

	n.posts[id] = map[string]interface{}{
		"id": id, "creator": creator, "handle": n.handles[creator],
		"cid": fmt.Sprintf("bafy%d", id), "points": units.MustParse(points).RawString(),
		"created_at": 1700000000 + int64(id),
	}
	n.order = append(n.order, id)
}

func (n *testNode) script(method string, out txOutcome) {
	n.Lock()
	defer n.Unlock()

	n.outcomes[method] = out
}

func (n *testNode) handle(w http.ResponseWriter, r *http.Request) {
	n.Lock()
	defer n.Unlock()

	path := strings.TrimSuffix(r.URL.Path, "/")
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")

	writeJSON := func(v interface{}) {
		_ = json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.Method == "GET" && len(parts) == 2 && parts[0] == "users":
		writeJSON(map[string]string{"handle": n.handles[parts[1]]})

	case r.Method == "GET" && len(parts) == 3 && parts[0] == "users":
		var ids []uint64
		for _, id := range n.order {
			if n.posts[id]["creator"] == parts[1] {
				ids = append(ids, id)
			}
		}
		writeJSON(map[string]interface{}{"ids": ids})

	case r.Method == "GET" && path == "/posts/trending":
		writeJSON(map[string]interface{}{"ids": n.trending})

	case r.Method == "GET" && path == "/posts":
		posts := make([]map[string]interface{}, 0, len(n.order))
		for _, id := range n.order {
			posts = append(posts, n.posts[id])
		}
		writeJSON(map[string]interface{}{"posts": posts})

	case r.Method == "GET" && len(parts) == 4 && parts[0] == "posts" && parts[2] == "liked":
		writeJSON(map[string]bool{"liked": n.liked[parts[1]+"/"+parts[3]]})

	case r.Method == "GET" && len(parts) == 2 && parts[0] == "posts":
		id, _ := strconv.ParseUint(parts[1], 10, 64)
		if post, ok := n.posts[id]; ok {
			writeJSON(post)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		writeJSON(map[string]string{"status": "error", "error": "no such post"})

	case r.Method == "GET" && len(parts) == 2 && parts[0] == "accounts":
		acct := n.accounts[parts[1]]
		vp, _ := strconv.ParseUint(acct["voting_power"], 10, 64)
		writeJSON(map[string]interface{}{
			"balance":         nonEmpty(acct["balance"]),
			"stake":           nonEmpty(acct["stake"]),
			"unlock_time":     0,
			"pending_rewards": nonEmpty(acct["pending_rewards"]),
			"voting_power":    vp,
		})

	case r.Method == "POST" && path == "/tx/send":
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		n.nextTx++
		txID := fmt.Sprintf("0xtx%d", n.nextTx)
		n.txMethod[txID] = req.Method

		writeJSON(map[string]string{"tx_id": txID})

	case r.Method == "GET" && len(parts) == 2 && parts[0] == "tx":
		txID := parts[1]
		out, ok := n.outcomes[n.txMethod[txID]]
		if !ok {
			out = txOutcome{status: "applied"}
		}

		if out.status == "applied" && out.applied != nil {
			out.applied(n)
			out.applied = nil
			n.outcomes[n.txMethod[txID]] = out
		}

		writeJSON(map[string]interface{}{
			"tx_id": txID, "status": out.status, "reason": out.reason, "events": out.events,
		})

	case r.Method == "POST" && path == "/upload":
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)

		n.nextCID++
		cid := fmt.Sprintf("bafyup%d", n.nextCID)
		n.content[cid] = buf

		writeJSON(map[string]string{"cid": cid})

	case r.Method == "GET" && len(parts) == 2 && parts[0] == "content":
		if content, ok := n.content[parts[1]]; ok {
			_, _ = w.Write(content)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	default:
		w.WriteHeader(http.StatusNotFound)
		writeJSON(map[string]string{"status": "error", "error": "no such route"})
	}
}

func nonEmpty(s string) string {
	if s == "" {
		return "0"
	}

	return s
}

// testSession spins a scripted node, a mock wallet holding aliceAddr on
// the expected network, and a coordinator around them.
func testSession(t *testing.T) (*testNode, *provider.Mock, *Coordinator) {
	t.Helper()

	conf.Update(
		conf.WithConfirmTimeout(2*time.Second),
		conf.WithConfirmPollInterval(5*time.Millisecond),
		conf.WithReadRetries(1),
		conf.WithReadRetryBackoff(5*time.Millisecond),
	)
	t.Cleanup(conf.Reset)

	node, endpoint := newTestNode(t)

	prov := provider.NewMock([]string{aliceAddr}, conf.GetChainID())

	c := NewCoordinator(
		prov,
		ledger.NewClient(endpoint, "0xcontract"),
		gateway.NewClient(endpoint, nil),
		events.NewHub(),
		nil,
	)

	return node, prov, c
}

func TestConnectLoadsSnapshot(t *testing.T) {
	node, _, c := testSession(t)

	node.Lock()
	node.handles[aliceAddr] = "alice"
	node.handles[bobAddr] = "bob"
	node.Unlock()

	node.setAccount(aliceAddr, "500", "1000", 10)
	node.addPost(0, bobAddr, "10")
	node.addPost(1, aliceAddr, "3")

	node.Lock()
	node.trending = []uint64{0}
	node.liked[fmt.Sprintf("0/%s", aliceAddr)] = true
	node.Unlock()

	addr, err := c.Connect()
	require.NoError(t, err)
	assert.Equal(t, aliceAddr, addr)
	assert.Equal(t, StateReady, c.State())

	snap := c.Snapshot()

	user := snap.User()
	assert.Equal(t, "alice", user.Handle)
	assert.True(t, user.IsRegistered)
	assert.Equal(t, []uint64{1}, user.PostIDs)

	token := snap.Token()
	assert.Equal(t, "500", token.Balance.String())
	assert.True(t, token.IsStakedEnough)

	feed := snap.Feed()
	require.Len(t, feed, 2)
	assert.EqualValues(t, 1, feed[0].ID)
	assert.EqualValues(t, 0, feed[1].ID)
	assert.True(t, feed[1].Liked)

	trending := snap.Trending()
	require.Len(t, trending, 1)
	assert.EqualValues(t, 0, trending[0].ID)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	node, _, c := testSession(t)
	node.setAccount(aliceAddr, "1", "0", 0)

	_, err := c.Connect()
	require.NoError(t, err)
	require.Equal(t, StateReady, c.State())

	var resets int
	c.hub.Subscribe(func(ev events.SessionReset) bool {
		resets++
		return true
	})

	c.Disconnect()
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, resets)

	c.Disconnect()
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, resets)
}

func TestLikeReconcilesAgainstLedger(t *testing.T) {
	node, _, c := testSession(t)

	node.Lock()
	node.handles[aliceAddr] = "alice"
	node.handles[bobAddr] = "bob"
	node.Unlock()

	node.setAccount(aliceAddr, "0", "1000", 10)
	node.addPost(0, bobAddr, "10")

	// The program tallies 12, not the local guess of 10+10.
	node.script(ledger.MethodLikePost, txOutcome{
		status: "applied",
		applied: func(n *testNode) {
			n.posts[0]["points"] = units.MustParse("12").RawString()
			n.liked[fmt.Sprintf("0/%s", aliceAddr)] = true
		},
	})

	_, err := c.Connect()
	require.NoError(t, err)

	require.NoError(t, c.Like(0))

	view, ok := c.Snapshot().Post(0)
	require.True(t, ok)
	assert.Equal(t, "12", view.Points.String())
	assert.True(t, view.Liked)
}

func TestLikeRevertRollsBackExactly(t *testing.T) {
	node, _, c := testSession(t)

	node.Lock()
	node.handles[aliceAddr] = "alice"
	node.Unlock()

	node.setAccount(aliceAddr, "0", "1000", 10)
	node.addPost(0, bobAddr, "10")

	node.script(ledger.MethodLikePost, txOutcome{status: "reverted", reason: "already liked"})

	_, err := c.Connect()
	require.NoError(t, err)

	err = c.Like(0)
	require.Error(t, err)
	assert.True(t, ledger.IsReverted(err))

	view, ok := c.Snapshot().Post(0)
	require.True(t, ok)
	assert.Equal(t, "10", view.Points.String())
	assert.False(t, view.Liked)
}

func TestLikeNotConfirmedRefetchesState(t *testing.T) {
	node, _, c := testSession(t)

	conf.Update(conf.WithConfirmTimeout(50 * time.Millisecond))

	node.Lock()
	node.handles[aliceAddr] = "alice"
	node.handles[bobAddr] = "bob"
	node.Unlock()

	node.setAccount(aliceAddr, "0", "1000", 10)
	node.addPost(0, bobAddr, "10")

	// The confirmation never arrives within the window, but the ledger
	// does include the like.
	node.script(ledger.MethodLikePost, txOutcome{status: "pending"})

	_, err := c.Connect()
	require.NoError(t, err)

	node.Lock()
	node.posts[0]["points"] = units.MustParse("12").RawString()
	node.liked[fmt.Sprintf("0/%s", aliceAddr)] = true
	node.Unlock()

	err = c.Like(0)
	require.Error(t, err)
	assert.True(t, ledger.IsNotConfirmed(err))

	// The snapshot reflects the ledger again before any retry is possible.
	view, ok := c.Snapshot().Post(0)
	require.True(t, ok)
	assert.Equal(t, "12", view.Points.String())
	assert.True(t, view.Liked)

	// A repeat attempt hits the gate instead of submitting a second
	// transaction for a like the ledger already counted.
	assert.Equal(t, ErrAlreadyLiked, c.Like(0))

	node.Lock()
	submitted := node.nextTx
	node.Unlock()
	assert.Equal(t, 1, submitted)
}

func TestLikeGates(t *testing.T) {
	node, _, c := testSession(t)

	node.Lock()
	node.handles[aliceAddr] = "alice"
	node.Unlock()

	node.setAccount(aliceAddr, "0", "0", 0)
	node.addPost(0, aliceAddr, "1")
	node.addPost(1, bobAddr, "1")

	node.Lock()
	node.liked[fmt.Sprintf("1/%s", aliceAddr)] = true
	node.Unlock()

	_, err := c.Connect()
	require.NoError(t, err)

	assert.Equal(t, ErrOwnPost, c.Like(0))
	assert.Equal(t, ErrAlreadyLiked, c.Like(1))

	c.Snapshot().SetLiked(1, false)
	assert.Equal(t, ErrStakeTooLow, c.Like(1))
}

func TestStakeRevertRollsBack(t *testing.T) {
	node, _, c := testSession(t)

	node.Lock()
	node.handles[aliceAddr] = "alice"
	node.Unlock()

	node.setAccount(aliceAddr, "1500", "0", 0)
	node.script(ledger.MethodStake, txOutcome{status: "reverted", reason: "paused"})

	_, err := c.Connect()
	require.NoError(t, err)

	err = c.Stake(units.MustParse("1000"))
	require.Error(t, err)

	token := c.Snapshot().Token()
	assert.Equal(t, "1500", token.Balance.String())
	assert.True(t, token.Staked.IsZero())
	assert.False(t, token.IsStakedEnough)
}

func TestStakeConfirmsAndReconciles(t *testing.T) {
	node, _, c := testSession(t)

	node.Lock()
	node.handles[aliceAddr] = "alice"
	node.Unlock()

	node.setAccount(aliceAddr, "1500", "0", 0)
	node.script(ledger.MethodStake, txOutcome{
		status: "applied",
		applied: func(n *testNode) {
			n.accounts[aliceAddr]["balance"] = units.MustParse("500").RawString()
			n.accounts[aliceAddr]["stake"] = units.MustParse("1000").RawString()
			n.accounts[aliceAddr]["voting_power"] = "10"
		},
	})

	_, err := c.Connect()
	require.NoError(t, err)

	require.NoError(t, c.Stake(units.MustParse("1000")))

	token := c.Snapshot().Token()
	assert.Equal(t, "500", token.Balance.String())
	assert.Equal(t, "1000", token.Staked.String())
	assert.EqualValues(t, 10, token.VotingPower)
	assert.True(t, token.IsStakedEnough)

	assert.Equal(t, ErrLowBalance, c.Stake(units.MustParse("10000")))
}

func TestPublishRoundTrip(t *testing.T) {
	node, _, c := testSession(t)

	node.Lock()
	node.handles[aliceAddr] = "alice"
	node.Unlock()

	node.setAccount(aliceAddr, "0", "0", 0)

	node.script(ledger.MethodCreatePost, txOutcome{
		status: "applied",
		events: []map[string]interface{}{{"name": "PostCreated", "post_id": 42}},
		applied: func(n *testNode) {
			n.posts[42] = map[string]interface{}{
				"id": uint64(42), "creator": aliceAddr, "handle": "alice",
				"cid": "bafyup1", "points": "0", "created_at": 1700000042,
			}
			n.order = append(n.order, 42)
		},
	})

	_, err := c.Connect()
	require.NoError(t, err)

	id, err := c.PublishJSON(map[string]string{"text": "gm"})
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)

	view, ok := c.Snapshot().Post(42)
	require.True(t, ok)
	assert.Equal(t, "bafyup1", view.ContentID)

	assert.Equal(t, []uint64{42}, c.Snapshot().User().PostIDs)

	content, err := c.FetchContent(42)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"gm"}`, string(content))
}

func TestRegisterRequiredBeforePublish(t *testing.T) {
	node, _, c := testSession(t)
	node.setAccount(aliceAddr, "0", "0", 0)

	_, err := c.Connect()
	require.NoError(t, err)

	_, err = c.Publish([]byte("hello"))
	assert.Equal(t, ErrNotRegistered, err)

	node.script(ledger.MethodRegisterUser, txOutcome{
		status: "applied",
		applied: func(n *testNode) {
			n.handles[aliceAddr] = "alice"
		},
	})

	require.NoError(t, c.Register("Alice"))

	user := c.Snapshot().User()
	assert.Equal(t, "alice", user.Handle)
	assert.True(t, user.IsRegistered)
}

func TestAccountChangedRestartsSession(t *testing.T) {
	node, prov, c := testSession(t)

	node.Lock()
	node.handles[aliceAddr] = "alice"
	node.handles[bobAddr] = "bob"
	node.Unlock()

	node.setAccount(aliceAddr, "10", "0", 0)
	node.setAccount(bobAddr, "20", "0", 0)

	_, err := c.Connect()
	require.NoError(t, err)
	require.Equal(t, "alice", c.Snapshot().User().Handle)

	prov.EmitAccountsChanged([]string{bobAddr})

	assert.Equal(t, StateReady, c.State())

	user := c.Snapshot().User()
	assert.Equal(t, bobAddr, user.Address)
	assert.Equal(t, "bob", user.Handle)
	assert.Equal(t, "20", c.Snapshot().Token().Balance.String())
}

func TestChainChangedEndsSession(t *testing.T) {
	node, prov, c := testSession(t)
	node.setAccount(aliceAddr, "1", "0", 0)

	_, err := c.Connect()
	require.NoError(t, err)
	require.Equal(t, StateReady, c.State())

	prov.EmitChainChanged(1)

	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, c.Snapshot().PostCount())
}

func TestWalletRevokedEndsSession(t *testing.T) {
	node, prov, c := testSession(t)
	node.setAccount(aliceAddr, "1", "0", 0)

	_, err := c.Connect()
	require.NoError(t, err)

	prov.EmitAccountsChanged(nil)

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, UserProfile{}, c.Snapshot().User())
}
