package ledger

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
	"github.com/vibefeed/vibefeed/units"
)

const testAddr = "0x477922afbac2a4184eb6452d7718cc4090cbc35a"

// fakeNode is a scripted ledger node API.
type fakeNode struct {
	sync.Mutex

	handles  map[string]string
	accounts map[string]map[string]interface{}
	posts    []map[string]interface{}
	trending []uint64
	liked    map[string]bool

	// tx id -> sequence of receipt payloads returned on successive polls
	receipts map[string][]map[string]interface{}
	polls    map[string]int

	nextTx int
	// method -> error message; when set, /tx/send answers 400
	rejects map[string]string

	srv *http.Server
}

func newFakeNode(t *testing.T) (*fakeNode, string) {
	t.Helper()

	port, err := freeport.GetFreePort()
	require.NoError(t, err)

	n := &fakeNode{
		handles:  make(map[string]string),
		accounts: make(map[string]map[string]interface{}),
		liked:    make(map[string]bool),
		receipts: make(map[string][]map[string]interface{}),
		polls:    make(map[string]int),
		rejects:  make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", n.handle)

	n.srv = &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", port), Handler: mux}

	ln, err := net.Listen("tcp", n.srv.Addr)
	require.NoError(t, err)

	go func() {
		_ = n.srv.Serve(ln)
	}()

	t.Cleanup(func() {
		_ = n.srv.Close()
	})

	return n, fmt.Sprintf("http://127.0.0.1:%d", port)
}

func (n *fakeNode) handle(w http.ResponseWriter, r *http.Request) {
	n.Lock()
	defer n.Unlock()

	path := strings.TrimSuffix(r.URL.Path, "/")
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")

	writeJSON := func(v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.Method == "GET" && len(parts) == 2 && parts[0] == "users":
		writeJSON(map[string]interface{}{"handle": n.handles[parts[1]]})

	case r.Method == "GET" && len(parts) == 3 && parts[0] == "users" && parts[2] == "posts":
		var ids []uint64
		for _, p := range n.posts {
			if p["creator"] == parts[1] {
				ids = append(ids, p["id"].(uint64))
			}
		}
		writeJSON(map[string]interface{}{"ids": ids})

	case r.Method == "GET" && path == "/posts/trending":
		writeJSON(map[string]interface{}{"ids": n.trending})

	case r.Method == "GET" && path == "/posts":
		writeJSON(map[string]interface{}{"posts": n.posts})

	case r.Method == "GET" && len(parts) == 2 && parts[0] == "posts":
		id, _ := strconv.ParseUint(parts[1], 10, 64)
		for _, p := range n.posts {
			if p["id"].(uint64) == id {
				writeJSON(p)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		writeJSON(map[string]string{"status": "error", "error": "no such post"})

	case r.Method == "GET" && len(parts) == 4 && parts[0] == "posts" && parts[2] == "liked":
		writeJSON(map[string]interface{}{"liked": n.liked[parts[1]+"/"+parts[3]]})

	case r.Method == "GET" && len(parts) == 2 && parts[0] == "accounts":
		acct, ok := n.accounts[parts[1]]
		if !ok {
			acct = map[string]interface{}{
				"balance": "0", "stake": "0", "unlock_time": 0,
				"pending_rewards": "0", "voting_power": 0,
			}
		}
		writeJSON(acct)

	case r.Method == "GET" && path == "/owner":
		writeJSON(map[string]string{"address": testAddr})

	case r.Method == "POST" && path == "/tx/send":
		var req struct {
			Method string   `json:"method"`
			Params []string `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		if reason, ok := n.rejects[req.Method]; ok {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(map[string]string{"status": "error", "error": reason})
			return
		}

		n.nextTx++
		txID := fmt.Sprintf("0xtx%d", n.nextTx)
		writeJSON(map[string]string{"tx_id": txID})

	case r.Method == "GET" && len(parts) == 2 && parts[0] == "tx":
		txID := parts[1]
		seq := n.receipts[txID]
		if len(seq) == 0 {
			writeJSON(map[string]interface{}{"tx_id": txID, "status": "applied"})
			return
		}

		i := n.polls[txID]
		if i >= len(seq) {
			i = len(seq) - 1
		}
		n.polls[txID]++

		writeJSON(seq[i])

	default:
		w.WriteHeader(http.StatusNotFound)
		writeJSON(map[string]string{"status": "error", "error": "no such route"})
	}
}

func fastConfirmConf(t *testing.T) {
	t.Helper()

	conf.Update(
		conf.WithConfirmTimeout(2*time.Second),
		conf.WithConfirmPollInterval(10*time.Millisecond),
		conf.WithReadRetries(1),
		conf.WithReadRetryBackoff(5*time.Millisecond),
	)
	t.Cleanup(conf.Reset)
}

func TestReads(t *testing.T) {
	fastConfirmConf(t)

	node, endpoint := newFakeNode(t)

	node.Lock()
	node.handles[testAddr] = "alice_01"
	node.posts = []map[string]interface{}{
		{"id": uint64(0), "creator": testAddr, "handle": "alice_01", "cid": "bafy0",
			"points": "10000000000000000000", "created_at": 1700000000},
		{"id": uint64(1), "creator": testAddr, "handle": "alice_01", "cid": "bafy1",
			"points": "0", "created_at": 1700000100},
	}
	node.trending = []uint64{1, 0}
	node.liked["0/"+testAddr] = true
	node.accounts[testAddr] = map[string]interface{}{
		"balance":         "2500000000000000000000",
		"stake":           "1000000000000000000000",
		"unlock_time":     1800000000,
		"pending_rewards": "5000000000000000000",
		"voting_power":    10,
	}
	node.Unlock()

	c := NewClient(endpoint, "0xcontract")

	handle, err := c.HandleOf(testAddr)
	require.NoError(t, err)
	assert.Equal(t, "alice_01", handle)

	ids, err := c.MyPostIDs(testAddr)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1}, ids)

	post, err := c.GetPost(0)
	require.NoError(t, err)
	assert.Equal(t, "bafy0", post.ContentID)
	assert.Equal(t, "10", post.Points.String())
	assert.EqualValues(t, 1700000000, post.CreatedAt)

	posts, err := c.GetAllPosts()
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.EqualValues(t, 1, posts[1].ID)

	trending, err := c.TrendingPostIDs()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 0}, trending)

	liked, err := c.IsPostLikedBy(0, testAddr)
	require.NoError(t, err)
	assert.True(t, liked)

	liked, err = c.IsPostLikedBy(1, testAddr)
	require.NoError(t, err)
	assert.False(t, liked)

	acct, err := c.GetAccount(testAddr)
	require.NoError(t, err)
	assert.Equal(t, "2500", acct.Balance.String())
	assert.Equal(t, "1000", acct.Stake.Amount.String())
	assert.EqualValues(t, 1800000000, acct.Stake.UnlockTime)
	assert.Equal(t, "5", acct.PendingRewards.String())
	assert.EqualValues(t, 10, acct.VotingPower)

	balance, err := c.BalanceOf(testAddr)
	require.NoError(t, err)
	assert.Equal(t, "2500", balance.String())

	power, err := c.VotingPowerOf(testAddr)
	require.NoError(t, err)
	assert.EqualValues(t, 10, power)

	owner, err := c.Owner()
	require.NoError(t, err)
	assert.Equal(t, testAddr, owner)
}

func TestWriteConfirms(t *testing.T) {
	fastConfirmConf(t)

	node, endpoint := newFakeNode(t)

	node.Lock()
	node.receipts["0xtx1"] = []map[string]interface{}{
		{"tx_id": "0xtx1", "status": "pending"},
		{"tx_id": "0xtx1", "status": "pending"},
		{"tx_id": "0xtx1", "status": "applied", "events": []map[string]interface{}{
			{"name": "PostCreated", "post_id": 7},
		}},
	}
	node.Unlock()

	c := NewClient(endpoint, "0xcontract")

	id, receipt, err := c.CreatePost(testAddr, "bafy123")
	require.NoError(t, err)
	assert.EqualValues(t, 7, id)
	assert.Equal(t, "applied", receipt.Status)
}

func TestWriteReverted(t *testing.T) {
	fastConfirmConf(t)

	node, endpoint := newFakeNode(t)

	node.Lock()
	node.receipts["0xtx1"] = []map[string]interface{}{
		{"tx_id": "0xtx1", "status": "reverted", "reason": "handle taken"},
	}
	node.Unlock()

	c := NewClient(endpoint, "0xcontract")

	_, err := c.RegisterUser(testAddr, "alice_01")
	require.Error(t, err)
	assert.True(t, IsReverted(err))
	assert.Contains(t, err.Error(), "handle taken")
}

func TestSubmitRejected(t *testing.T) {
	fastConfirmConf(t)

	node, endpoint := newFakeNode(t)

	node.Lock()
	node.rejects["stake"] = "user declined signature"
	node.Unlock()

	c := NewClient(endpoint, "0xcontract")

	_, err := c.Stake(testAddr, units.MustParse("100"))
	require.Error(t, err)

	// A declined wallet prompt is a rejection, not a timeout.
	assert.True(t, IsReverted(err))
	assert.Contains(t, err.Error(), "user declined signature")
}

func TestWriteNotConfirmed(t *testing.T) {
	fastConfirmConf(t)
	conf.Update(conf.WithConfirmTimeout(50 * time.Millisecond))

	node, endpoint := newFakeNode(t)

	node.Lock()
	node.receipts["0xtx1"] = []map[string]interface{}{
		{"tx_id": "0xtx1", "status": "pending"},
	}
	node.Unlock()

	c := NewClient(endpoint, "0xcontract")

	_, err := c.ClaimRewards(testAddr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrNotConfirmed.Error())
}

func TestUnstakeForms(t *testing.T) {
	fastConfirmConf(t)

	_, endpoint := newFakeNode(t)
	c := NewClient(endpoint, "0xcontract")

	// Both the full and the partial form submit cleanly; the fake node
	// confirms unknown transactions immediately.
	_, err := c.Unstake(testAddr, units.Zero())
	assert.NoError(t, err)

	_, err = c.Unstake(testAddr, units.MustParse("12.5"))
	assert.NoError(t, err)
}

func TestTransientReadError(t *testing.T) {
	fastConfirmConf(t)

	port, err := freeport.GetFreePort()
	require.NoError(t, err)

	// Nothing is listening on the port.
	c := NewClient(fmt.Sprintf("http://127.0.0.1:%d", port), "0xcontract")

	_, err = c.HandleOf(testAddr)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
