package vibefeed

import (
	"github.com/google/btree"

	"github.com/vibefeed/vibefeed/ledger"
)

// PostView is a post as the application sees it: the ledger record plus
// whether the active account already liked it.
type PostView struct {
	ledger.Post
	Liked bool
}

func (p *PostView) Less(than btree.Item) bool {
	return p.ID < than.(*PostView).ID
}

// PostCollection holds every loaded post, ordered by id in a btree, plus
// two id sequences laid over it: the feed (newest first) and the
// ledger-ranked trending list. Every id in either sequence resolves to an
// entry in the tree. Not safe for concurrent use; the snapshot's lock
// guards it.
type PostCollection struct {
	tree *btree.BTree

	feed     []uint64
	trending []uint64
}

func newPostCollection() *PostCollection {
	return &PostCollection{
		tree: btree.New(32),
	}
}

func (c *PostCollection) len() int {
	return c.tree.Len()
}

func (c *PostCollection) get(id uint64) (*PostView, bool) {
	item := c.tree.Get(&PostView{Post: ledger.Post{ID: id}})
	if item == nil {
		return nil, false
	}

	return item.(*PostView), true
}

// upsert merges a ledger record in. A new post joins the front of the
// feed; an existing one keeps its place and its liked flag.
func (c *PostCollection) upsert(post ledger.Post) *PostView {
	if existing, ok := c.get(post.ID); ok {
		existing.Post = post
		return existing
	}

	view := &PostView{Post: post}
	c.tree.ReplaceOrInsert(view)

	c.feed = append([]uint64{post.ID}, c.feed...)

	return view
}

// backfill merges a historical post discovered after the bulk load, via
// the trending list for instance. Unlike upsert, a new post joins the
// back of the feed: it is older than everything the bulk load returned.
func (c *PostCollection) backfill(post ledger.Post) *PostView {
	if existing, ok := c.get(post.ID); ok {
		existing.Post = post
		return existing
	}

	view := &PostView{Post: post}
	c.tree.ReplaceOrInsert(view)

	c.feed = append(c.feed, post.ID)

	return view
}

// replaceAll rebuilds the collection from a bulk load. The ledger reports
// posts oldest first; the feed shows them newest first. Liked flags carry
// over for posts that survive the reload, and a repeated id in the
// payload keeps only its first occurrence.
func (c *PostCollection) replaceAll(posts []ledger.Post) {
	prevLiked := make(map[uint64]bool, c.tree.Len())

	c.tree.Ascend(func(item btree.Item) bool {
		view := item.(*PostView)
		if view.Liked {
			prevLiked[view.ID] = true
		}

		return true
	})

	c.tree.Clear(false)
	c.feed = make([]uint64, 0, len(posts))
	c.trending = nil

	seen := make(map[uint64]struct{}, len(posts))
	order := make([]uint64, 0, len(posts))

	for _, post := range posts {
		if _, dup := seen[post.ID]; dup {
			continue
		}
		seen[post.ID] = struct{}{}
		order = append(order, post.ID)

		view := &PostView{Post: post, Liked: prevLiked[post.ID]}
		c.tree.ReplaceOrInsert(view)
	}

	for i := len(order) - 1; i >= 0; i-- {
		c.feed = append(c.feed, order[i])
	}
}

func (c *PostCollection) setLiked(id uint64, liked bool) bool {
	view, ok := c.get(id)
	if !ok {
		return false
	}

	view.Liked = liked

	return true
}

// replaceTrending swaps in a new ranked sequence, dropping any id that
// does not resolve to a loaded post. The ledger's order is preserved.
func (c *PostCollection) replaceTrending(ids []uint64) []uint64 {
	kept := make([]uint64, 0, len(ids))

	for _, id := range ids {
		if _, ok := c.get(id); ok {
			kept = append(kept, id)
		}
	}

	c.trending = kept

	return kept
}

func (c *PostCollection) views(ids []uint64) []PostView {
	out := make([]PostView, 0, len(ids))

	for _, id := range ids {
		if view, ok := c.get(id); ok {
			out = append(out, *view)
		}
	}

	return out
}

func (c *PostCollection) feedViews() []PostView {
	return c.views(c.feed)
}

func (c *PostCollection) trendingViews() []PostView {
	return c.views(c.trending)
}

func (c *PostCollection) reset() {
	c.tree.Clear(false)
	c.feed = nil
	c.trending = nil
}
