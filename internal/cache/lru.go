package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/spboyer/promptloop/internal/metrics"
	"github.com/spboyer/promptloop/internal/models"
)

type lruNode struct {
	key      string
	value    *models.JudgeResult
	storedAt time.Time
	next     *lruNode
	prev     *lruNode
}

// lruCache is an O(1) LRU with a per-entry TTL checked on read. One mutex guards the map and the
// list together.
type lruCache struct {
	mu        sync.Mutex
	size      int
	ttl       time.Duration
	nodes     map[string]*lruNode
	head      *lruNode
	tail      *lruNode
	evictions int64
	now       func() time.Time
}

func newLRUCache(size int, ttl time.Duration) *lruCache {
	return &lruCache{
		size:  size,
		ttl:   ttl,
		nodes: map[string]*lruNode{},
		now:   time.Now,
	}
}

// get returns a copy of the value. A stale entry is removed and reported as a miss.
func (c *lruCache) get(key string) (*models.JudgeResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.nodes[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(node.storedAt) > c.ttl {
		c.removeNode(node)
		delete(c.nodes, key)
		metrics.JudgeCacheEntries.Set(float64(len(c.nodes)))
		return nil, false
	}
	c.moveToHead(node)
	return node.value.Clone(), true
}

func (c *lruCache) set(key string, value *models.JudgeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.nodes[key]; ok {
		node.value = value.Clone()
		node.storedAt = c.now()
		c.moveToHead(node)
		return
	}

	node := &lruNode{
		key:      key,
		value:    value.Clone(),
		storedAt: c.now(),
	}
	c.nodes[key] = node
	c.addNode(node)
	if len(c.nodes) > c.size {
		evicted := c.tail
		delete(c.nodes, evicted.key)
		c.removeNode(evicted)
		c.evictions++
		metrics.JudgeCacheEvictions.Inc()
	}
	metrics.JudgeCacheEntries.Set(float64(len(c.nodes)))
}

func (c *lruCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nodes = map[string]*lruNode{}
	c.head = nil
	c.tail = nil
	metrics.JudgeCacheEntries.Set(0)
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}

func (c *lruCache) evictionCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}

// verify walks the list and checks it against the map.
func (c *lruCache) verify() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	var prev *lruNode
	for n := c.head; n != nil; n = n.next {
		count++
		if count > len(c.nodes) {
			return &CorruptionError{Detail: fmt.Sprintf("list is longer than index (%d entries)", len(c.nodes))}
		}
		if n.prev != prev {
			return &CorruptionError{Detail: fmt.Sprintf("broken back link at %q", n.key)}
		}
		if c.nodes[n.key] != n {
			return &CorruptionError{Detail: fmt.Sprintf("list node %q is not indexed", n.key)}
		}
		prev = n
	}
	if prev != c.tail {
		return &CorruptionError{Detail: "tail does not match the last list node"}
	}
	if count != len(c.nodes) {
		return &CorruptionError{Detail: fmt.Sprintf("index has %d entries but list has %d", len(c.nodes), count)}
	}
	if count > c.size {
		return &CorruptionError{Detail: fmt.Sprintf("%d entries exceed capacity %d", count, c.size)}
	}
	return nil
}

func (c *lruCache) moveToHead(node *lruNode) {
	c.removeNode(node)
	node.prev = nil
	node.next = nil
	c.addNode(node)
}

func (c *lruCache) addNode(node *lruNode) {
	if c.head != nil {
		c.head.prev = node
		node.next = c.head
	}
	if c.tail == nil {
		c.tail = node
	}
	c.head = node
}

func (c *lruCache) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}
