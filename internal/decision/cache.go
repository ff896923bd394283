package decision

import (
	"container/list"
	"encoding/json"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/ppiankov/warrant/internal/model"
	"github.com/ppiankov/warrant/internal/policy"
)

// DefaultCacheSize bounds the verdict cache when no size is configured.
const DefaultCacheSize = 1024

type cacheKey struct {
	policyHash string
	digest     [32]byte
}

type cacheItem struct {
	key     cacheKey
	verdict policy.Verdict
}

// verdictCache is a fixed-capacity LRU of evaluation results. Entries
// from older policy versions age out naturally since the policy hash is
// part of the key.
type verdictCache struct {
	mu    sync.Mutex
	size  int
	order *list.List
	items map[cacheKey]*list.Element
}

func newVerdictCache(size int) *verdictCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &verdictCache{
		size:  size,
		order: list.New(),
		items: make(map[cacheKey]*list.Element, size),
	}
}

// requestDigest hashes the canonical JSON form of req. Map keys in the
// context are sorted by encoding/json, so equal requests share a digest.
func requestDigest(req model.Request) ([32]byte, bool) {
	data, err := json.Marshal(req)
	if err != nil {
		return [32]byte{}, false
	}
	return blake3.Sum256(data), true
}

func (c *verdictCache) get(k cacheKey) (policy.Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[k]
	if !ok {
		return policy.Verdict{}, false
	}
	c.order.MoveToFront(el)
	return cloneVerdict(el.Value.(*cacheItem).verdict), true
}

func (c *verdictCache) put(k cacheKey, v policy.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[k]; ok {
		el.Value.(*cacheItem).verdict = cloneVerdict(v)
		c.order.MoveToFront(el)
		return
	}
	c.items[k] = c.order.PushFront(&cacheItem{key: k, verdict: cloneVerdict(v)})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
	}
}

func (c *verdictCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func cloneVerdict(v policy.Verdict) policy.Verdict {
	v.MatchedRelations = append([]string{}, v.MatchedRelations...)
	return v
}
