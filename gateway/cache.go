package gateway

import (
	"bytes"

	"golang.org/x/crypto/blake2b"

	"github.com/vibefeed/vibefeed/kv"
	"github.com/vibefeed/vibefeed/log"
	"github.com/vibefeed/vibefeed/lru"
)

const hotCacheSize = 128

var (
	keyContent = []byte("content:")
	keySum     = []byte("sum:")
)

// Cache stores fetched content locally, with a hot in-memory tier in
// front of a persistent store. Every persisted entry carries a checksum;
// an entry that fails verification is dropped and refetched.
type Cache struct {
	store kv.KV
	hot   *lru.LRU
}

// NewCache wraps a key-value store. The store remains owned by the
// caller and is not closed by the cache.
func NewCache(store kv.KV) *Cache {
	return &Cache{
		store: store,
		hot:   lru.NewLRU(hotCacheSize),
	}
}

// Load returns the cached content for a content id, if present and
// intact.
func (c *Cache) Load(cid string) ([]byte, bool) {
	if content, ok := c.hot.Load(cid); ok {
		return content.([]byte), true
	}

	content, err := c.store.Get(append(keyContent, cid...))
	if err != nil {
		return nil, false
	}

	sum, err := c.store.Get(append(keySum, cid...))
	if err != nil {
		return nil, false
	}

	checksum := blake2b.Sum256(content)
	if !bytes.Equal(checksum[:], sum) {
		log.Gateway("cache").Warn().
			Str("cid", cid).
			Msg("Cached content failed verification; dropping.")

		c.Remove(cid)

		return nil, false
	}

	c.hot.Put(cid, content)

	return content, true
}

// Save records content under its content id.
func (c *Cache) Save(cid string, content []byte) {
	checksum := blake2b.Sum256(content)

	if err := c.store.Put(append(keyContent, cid...), content); err != nil {
		log.Gateway("cache").Warn().
			Err(err).
			Str("cid", cid).
			Msg("Failed to persist content.")

		return
	}

	if err := c.store.Put(append(keySum, cid...), checksum[:]); err != nil {
		_ = c.store.Delete(append(keyContent, cid...))
		return
	}

	c.hot.Put(cid, content)
}

// Remove drops a content id from both tiers.
func (c *Cache) Remove(cid string) {
	c.hot.Remove(cid)

	_ = c.store.Delete(append(keyContent, cid...))
	_ = c.store.Delete(append(keySum, cid...))
}
