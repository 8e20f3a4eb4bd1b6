package vibefeed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibefeed/vibefeed/events"
	"github.com/vibefeed/vibefeed/ledger"
	"github.com/vibefeed/vibefeed/units"
)

func makePost(id uint64, creator string, points string) ledger.Post {
	return ledger.Post{
		ID:        id,
		Creator:   creator,
		Handle:    "someone",
		ContentID: "bafy",
		Points:    units.MustParse(points),
		CreatedAt: int64(1700000000 + id),
	}
}

func TestValidateHandle(t *testing.T) {
	cases := []struct {
		in   string
		out  string
		fail bool
	}{
		{in: "alice_01", out: "alice_01"},
		{in: "  Alice_01 ", out: "alice_01"},
		{in: "ab", fail: true},
		{in: "a_very_long_handle_over_limit", fail: true},
		{in: "has space", fail: true},
		{in: "émoji", fail: true},
		{in: "abc", out: "abc"},
	}

	for _, tc := range cases {
		got, err := ValidateHandle(tc.in)

		if tc.fail {
			assert.Error(t, err, tc.in)
			continue
		}

		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.out, got)
	}
}

func TestTokenDerivedFields(t *testing.T) {
	var token TokenAccount

	token.Staked = units.MustParse("999.999999999999999999")
	token.recompute()

	assert.EqualValues(t, 9, token.VotingPower)
	assert.False(t, token.IsStakedEnough)

	token.Staked = units.FromWhole(1000)
	token.recompute()

	assert.EqualValues(t, 10, token.VotingPower)
	assert.True(t, token.IsStakedEnough)
}

func TestUnlockRemaining(t *testing.T) {
	now := time.Unix(1700000000, 0)

	token := TokenAccount{UnlockTime: now.Add(time.Hour).Unix()}
	assert.Equal(t, time.Hour, token.UnlockRemaining(now))

	token.UnlockTime = now.Add(-time.Minute).Unix()
	assert.Zero(t, token.UnlockRemaining(now))
}

func TestCollectionInvariants(t *testing.T) {
	c := newPostCollection()

	c.replaceAll([]ledger.Post{
		makePost(0, "0xaa", "1"),
		makePost(1, "0xbb", "2"),
		makePost(2, "0xcc", "3"),
	})

	// Feed shows newest first.
	assert.Equal(t, []uint64{2, 1, 0}, c.feed)

	// Every feed id resolves.
	for _, id := range c.feed {
		_, ok := c.get(id)
		assert.True(t, ok)
	}

	// Unknown trending ids are dropped; order of the rest is preserved.
	kept := c.replaceTrending([]uint64{1, 99, 0})
	assert.Equal(t, []uint64{1, 0}, kept)

	// A brand-new post joins the front of the feed.
	c.upsert(makePost(3, "0xdd", "0"))
	assert.Equal(t, []uint64{3, 2, 1, 0}, c.feed)

	// Merging an existing post keeps its place and its liked flag.
	c.setLiked(1, true)
	c.upsert(makePost(1, "0xbb", "5"))

	view, _ := c.get(1)
	assert.True(t, view.Liked)
	assert.Equal(t, "5", view.Points.String())
	assert.Equal(t, []uint64{3, 2, 1, 0}, c.feed)
}

func TestCollectionBackfillJoinsFeedTail(t *testing.T) {
	c := newPostCollection()

	c.replaceAll([]ledger.Post{
		makePost(1, "0xaa", "1"),
		makePost(2, "0xbb", "2"),
	})

	// A historical post, discovered via the trending list, is older than
	// the bulk load and lands at the back of the feed.
	c.backfill(makePost(0, "0xcc", "9"))
	assert.Equal(t, []uint64{2, 1, 0}, c.feed)

	// Backfilling a known post merges it in place.
	c.setLiked(2, true)
	c.backfill(makePost(2, "0xbb", "7"))

	view, _ := c.get(2)
	assert.Equal(t, "7", view.Points.String())
	assert.True(t, view.Liked)
	assert.Equal(t, []uint64{2, 1, 0}, c.feed)
}

func TestBulkLoadDropsDuplicates(t *testing.T) {
	c := newPostCollection()

	c.replaceAll([]ledger.Post{
		makePost(0, "0xaa", "1"),
		makePost(1, "0xbb", "2"),
		makePost(0, "0xaa", "1"),
	})

	assert.Equal(t, []uint64{1, 0}, c.feed)
	assert.Equal(t, 2, c.len())
}

func TestAddOwnPostPrepends(t *testing.T) {
	s := NewSnapshot(events.NewHub())

	s.ApplyLoad(
		UserProfile{Address: "0xaa", Handle: "alice", IsRegistered: true, PostIDs: []uint64{3, 1}},
		&ledger.AccountState{},
		nil, nil, nil,
	)

	s.AddOwnPost(5)
	assert.Equal(t, []uint64{5, 3, 1}, s.User().PostIDs)

	// Re-adding a known id is a no-op.
	s.AddOwnPost(3)
	assert.Equal(t, []uint64{5, 3, 1}, s.User().PostIDs)
}

func TestCollectionReloadKeepsLikedFlags(t *testing.T) {
	c := newPostCollection()

	c.replaceAll([]ledger.Post{makePost(0, "0xaa", "1"), makePost(1, "0xbb", "2")})
	c.setLiked(0, true)

	c.replaceAll([]ledger.Post{makePost(0, "0xaa", "4"), makePost(1, "0xbb", "2"), makePost(2, "0xcc", "0")})

	view, _ := c.get(0)
	assert.True(t, view.Liked)

	view, _ = c.get(2)
	assert.False(t, view.Liked)
}

func TestApplyLoadIsAtomic(t *testing.T) {
	hub := events.NewHub()
	s := NewSnapshot(hub)

	// Every observer sees the post collection already complete by the
	// time the first event arrives.
	hub.Subscribe(func(ev events.UserUpdated) bool {
		assert.Equal(t, 2, s.PostCount())
		return true
	})

	var posts int
	hub.Subscribe(func(ev events.PostUpserted) bool {
		posts++
		return true
	})

	acct := &ledger.AccountState{
		Balance: units.MustParse("10"),
		Stake:   ledger.StakeInfo{Amount: units.FromWhole(1000)},
	}

	s.ApplyLoad(
		UserProfile{Address: "0xaa", Handle: "alice", IsRegistered: true},
		acct,
		[]ledger.Post{makePost(0, "0xbb", "1"), makePost(1, "0xcc", "2")},
		map[uint64]bool{1: true},
		[]uint64{1},
	)

	assert.Equal(t, 2, posts)
	assert.True(t, s.User().IsRegistered)
	assert.True(t, s.Token().IsStakedEnough)

	view, ok := s.Post(1)
	require.True(t, ok)
	assert.True(t, view.Liked)

	trending := s.Trending()
	require.Len(t, trending, 1)
	assert.EqualValues(t, 1, trending[0].ID)
}

func TestStageLikeRollbackIsExact(t *testing.T) {
	s := NewSnapshot(events.NewHub())

	s.ApplyLoad(
		UserProfile{Address: "0xaa"},
		&ledger.AccountState{},
		[]ledger.Post{makePost(0, "0xbb", "10")},
		nil, nil,
	)

	undo, ok := s.StageLike(0, units.FromWhole(1))
	require.True(t, ok)

	view, _ := s.Post(0)
	assert.Equal(t, "11", view.Points.String())
	assert.True(t, view.Liked)

	undo()

	view, _ = s.Post(0)
	assert.Equal(t, "10", view.Points.String())
	assert.False(t, view.Liked)
}

func TestStageTokenRollbackIsExact(t *testing.T) {
	s := NewSnapshot(events.NewHub())

	s.ApplyAccount(&ledger.AccountState{
		Balance:     units.MustParse("1500"),
		Stake:       ledger.StakeInfo{Amount: units.FromWhole(500)},
		VotingPower: 5,
	})

	amount := units.MustParse("700.25")

	undo := s.StageToken(func(tok *TokenAccount) {
		tok.Balance = tok.Balance.Sub(amount)
		tok.Staked = tok.Staked.Add(amount)
	})

	token := s.Token()
	assert.Equal(t, "799.75", token.Balance.String())
	assert.Equal(t, "1200.25", token.Staked.String())
	assert.EqualValues(t, 12, token.VotingPower)
	assert.True(t, token.IsStakedEnough)

	undo()

	token = s.Token()
	assert.Equal(t, "1500", token.Balance.String())
	assert.Equal(t, "500", token.Staked.String())
	assert.EqualValues(t, 5, token.VotingPower)
	assert.False(t, token.IsStakedEnough)
}

func TestResetClearsEverything(t *testing.T) {
	hub := events.NewHub()
	s := NewSnapshot(hub)

	var resets []string
	hub.Subscribe(func(ev events.SessionReset) bool {
		resets = append(resets, ev.Address)
		return true
	})

	s.ApplyLoad(
		UserProfile{Address: "0xaa", Handle: "alice", IsRegistered: true},
		&ledger.AccountState{Balance: units.MustParse("10")},
		[]ledger.Post{makePost(0, "0xbb", "1")},
		nil, []uint64{0},
	)

	s.Reset("0xdd")

	assert.Equal(t, []string{"0xdd"}, resets)
	assert.Equal(t, UserProfile{Address: "0xdd"}, s.User())
	assert.True(t, s.Token().Balance.IsZero())
	assert.Zero(t, s.PostCount())
	assert.Empty(t, s.Trending())
}
