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

// Package vibefeed keeps a client-side snapshot of one account's view of
// the feed program and drives its synchronization with the ledger.
package vibefeed

import (
	"sync"

	"github.com/vibefeed/vibefeed/events"
	"github.com/vibefeed/vibefeed/ledger"
	"github.com/vibefeed/vibefeed/units"
)

// Snapshot is the single observable copy of chain state: a user slice, a
// token slice and the post collection. Every mutation happens under one
// lock and is announced on the hub after the lock is released, so an
// observer never sees a half-applied merge.
type Snapshot struct {
	mu  sync.RWMutex
	hub *events.Hub

	user  UserProfile
	token TokenAccount
	posts *PostCollection
}

func NewSnapshot(hub *events.Hub) *Snapshot {
	return &Snapshot{
		hub:   hub,
		posts: newPostCollection(),
	}
}

// User returns a copy of the identity slice.
func (s *Snapshot) User() UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.user
}

// Token returns a copy of the token slice.
func (s *Snapshot) Token() TokenAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token
}

// Post returns a copy of one post, if loaded.
func (s *Snapshot) Post(id uint64) (PostView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view, ok := s.posts.get(id)
	if !ok {
		return PostView{}, false
	}

	return *view, true
}

// Feed returns the loaded posts newest first.
func (s *Snapshot) Feed() []PostView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.posts.feedViews()
}

// Trending returns the ledger-ranked trending posts in rank order.
func (s *Snapshot) Trending() []PostView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.posts.trendingViews()
}

// PostCount reports how many posts are loaded.
func (s *Snapshot) PostCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.posts.len()
}

// Reset clears every slice and rebinds the snapshot to an address, which
// may be empty when there is no session.
func (s *Snapshot) Reset(address string) {
	s.mu.Lock()

	s.user = UserProfile{Address: address}
	s.token = TokenAccount{}
	s.posts.reset()

	s.mu.Unlock()

	s.publish(events.SessionReset{Address: address})
}

// ApplyLoad installs a full authoritative load in one step.
func (s *Snapshot) ApplyLoad(user UserProfile, acct *ledger.AccountState, posts []ledger.Post, liked map[uint64]bool, trending []uint64) {
	s.mu.Lock()

	s.user = user
	s.token.setFromLedger(acct)

	s.posts.replaceAll(posts)
	for id := range liked {
		s.posts.setLiked(id, liked[id])
	}
	s.posts.replaceTrending(trending)

	queued := []interface{}{s.userEvent(), s.tokenEvent()}
	for _, view := range s.posts.feedViews() {
		queued = append(queued, postEvent(view))
	}
	queued = append(queued, events.TrendingReplaced{IDs: s.posts.trending})

	s.mu.Unlock()

	s.publish(queued...)
}

// ApplyUser installs the authoritative handle. An empty handle means the
// address never registered.
func (s *Snapshot) ApplyUser(handle string) {
	s.mu.Lock()

	s.user.Handle = handle
	s.user.IsRegistered = handle != ""

	ev := s.userEvent()

	s.mu.Unlock()

	s.publish(ev)
}

// AddOwnPost records a freshly created post at the front of the user's
// own-post sequence. Ids already present keep their place.
func (s *Snapshot) AddOwnPost(id uint64) {
	s.mu.Lock()

	for _, existing := range s.user.PostIDs {
		if existing == id {
			s.mu.Unlock()
			return
		}
	}

	s.user.PostIDs = append([]uint64{id}, s.user.PostIDs...)
	ev := s.userEvent()

	s.mu.Unlock()

	s.publish(ev)
}

// ApplyAccount installs the authoritative token state.
func (s *Snapshot) ApplyAccount(acct *ledger.AccountState) {
	s.mu.Lock()

	s.token.setFromLedger(acct)
	ev := s.tokenEvent()

	s.mu.Unlock()

	s.publish(ev)
}

// UpsertPost merges an authoritative post record, preserving the local
// liked flag.
func (s *Snapshot) UpsertPost(post ledger.Post) {
	s.mu.Lock()

	view := s.posts.upsert(post)
	ev := postEvent(*view)

	s.mu.Unlock()

	s.publish(ev)
}

// BackfillPost merges an authoritative post record discovered after the
// bulk load. A new post joins the back of the feed rather than the front.
func (s *Snapshot) BackfillPost(post ledger.Post) {
	s.mu.Lock()

	view := s.posts.backfill(post)
	ev := postEvent(*view)

	s.mu.Unlock()

	s.publish(ev)
}

// SetLiked flips the liked flag on a loaded post.
func (s *Snapshot) SetLiked(id uint64, liked bool) {
	s.mu.Lock()

	ok := s.posts.setLiked(id, liked)

	var ev interface{}
	if ok {
		view, _ := s.posts.get(id)
		ev = postEvent(*view)
	}

	s.mu.Unlock()

	if ok {
		s.publish(ev)
	}
}

// ReplaceTrending swaps in a new ranked sequence and returns the ids that
// resolved to loaded posts.
func (s *Snapshot) ReplaceTrending(ids []uint64) []uint64 {
	s.mu.Lock()

	kept := s.posts.replaceTrending(ids)

	s.mu.Unlock()

	s.publish(events.TrendingReplaced{IDs: kept})

	return kept
}

// StageUser applies an optimistic mutation to the identity slice and
// returns a rollback restoring exactly the captured prior value.
func (s *Snapshot) StageUser(mutate func(*UserProfile)) func() {
	s.mu.Lock()

	prior := s.user
	mutate(&s.user)

	ev := s.userEvent()

	s.mu.Unlock()

	s.publish(ev)

	return func() {
		s.mu.Lock()

		s.user = prior
		ev := s.userEvent()

		s.mu.Unlock()

		s.publish(ev)
	}
}

// StageToken applies an optimistic mutation to the token slice, with the
// derived fields recomputed, and returns a rollback restoring exactly the
// captured prior value.
func (s *Snapshot) StageToken(mutate func(*TokenAccount)) func() {
	s.mu.Lock()

	prior := s.token
	mutate(&s.token)
	s.token.recompute()

	ev := s.tokenEvent()

	s.mu.Unlock()

	s.publish(ev)

	return func() {
		s.mu.Lock()

		s.token = prior
		ev := s.tokenEvent()

		s.mu.Unlock()

		s.publish(ev)
	}
}

// StageLike optimistically marks a post liked and adds the given weight
// to its points. The rollback restores the captured points and flag.
func (s *Snapshot) StageLike(id uint64, weight units.Amount) (func(), bool) {
	s.mu.Lock()

	view, ok := s.posts.get(id)
	if !ok {
		s.mu.Unlock()
		return nil, false
	}

	priorPoints := view.Points
	priorLiked := view.Liked

	view.Points = view.Points.Add(weight)
	view.Liked = true

	ev := postEvent(*view)

	s.mu.Unlock()

	s.publish(ev)

	return func() {
		s.mu.Lock()

		view, ok := s.posts.get(id)
		if ok {
			view.Points = priorPoints
			view.Liked = priorLiked
		}

		var ev interface{}
		if ok {
			ev = postEvent(*view)
		}

		s.mu.Unlock()

		if ok {
			s.publish(ev)
		}
	}, true
}

func (s *Snapshot) publish(evs ...interface{}) {
	if s.hub == nil {
		return
	}

	for _, ev := range evs {
		s.hub.Publish(ev)
	}
}

func (s *Snapshot) userEvent() events.UserUpdated {
	return events.UserUpdated{
		Address:      s.user.Address,
		Handle:       s.user.Handle,
		IsRegistered: s.user.IsRegistered,
		PostIDs:      s.user.PostIDs,
	}
}

func (s *Snapshot) tokenEvent() events.TokenUpdated {
	return events.TokenUpdated{
		Balance:        s.token.Balance.String(),
		StakedAmount:   s.token.Staked.String(),
		PendingRewards: s.token.PendingRewards.String(),
		VotingPower:    s.token.VotingPower,
		IsStakedEnough: s.token.IsStakedEnough,
	}
}

func postEvent(view PostView) events.PostUpserted {
	return events.PostUpserted{
		ID:        view.ID,
		Creator:   view.Creator,
		Handle:    view.Handle,
		ContentID: view.ContentID,
		Points:    view.Points.String(),
		Liked:     view.Liked,
	}
}
