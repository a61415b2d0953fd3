package util

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// CacheConfig 用于配置LRU缓存的行为。
type CacheConfig struct {
	// Capacity 是缓存的最大元素数量。如果为0，则不限制数量。
	Capacity int
	// MaxWeight 是缓存中所有元素的最大权重总和。如果为0，则不限制权重。
	MaxWeight int
	// TTL 是元素的默认存活时间。如果为0，则元素永不过期。
	TTL time.Duration
	// Now 返回当前时间，测试时可以替换。默认为 time.Now。
	Now func() time.Time
}

// entry 结构体用于存储链表节点中的实际数据。
type entry[K comparable, V any] struct {
	key        K
	value      V
	weight     int       // 元素的权重
	expiration time.Time // 元素的过期时间，零值表示永不过期
}

// LRUCache 是一个支持泛型、可配置且线程安全的LRU缓存。
type LRUCache[K comparable, V any] struct {
	config        CacheConfig
	ll            *list.List
	cache         map[K]*list.Element
	currentWeight int
	lock          sync.Mutex
}

// NewWithConfig 使用指定的配置创建一个LRU缓存实例。
func NewWithConfig[K comparable, V any](config CacheConfig) (*LRUCache[K, V], error) {
	// 至少要有一个限制条件
	if config.Capacity <= 0 && config.MaxWeight <= 0 {
		return nil, fmt.Errorf("必须设置 Capacity 或 MaxWeight 中的至少一个")
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &LRUCache[K, V]{
		config: config,
		ll:     list.New(),
		cache:  make(map[K]*list.Element),
	}, nil
}

// Get 方法根据键获取一个值。过期的元素在读取时被动淘汰。
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	var zero V
	element, ok := c.cache[key]
	if !ok {
		return zero, false
	}
	e := element.Value.(*entry[K, V])
	if c.expiredLocked(e) {
		c.removeElement(element)
		return zero, false
	}

	// 标记为最近使用
	c.ll.MoveToFront(element)
	return e.value, true
}

// Put 使用默认 TTL 添加或更新一个键值对。
// 如果使用基于容量的淘汰，可以为 weight 传入 1。
func (c *LRUCache[K, V]) Put(key K, value V, weight int) {
	c.PutWithTTL(key, value, weight, c.config.TTL)
}

// PutWithTTL 添加或更新一个键值对，ttl 为 0 时永不过期。
func (c *LRUCache[K, V]) PutWithTTL(key K, value V, weight int, ttl time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()

	var expiration time.Time
	if ttl > 0 {
		expiration = c.config.Now().Add(ttl)
	}

	if element, ok := c.cache[key]; ok {
		e := element.Value.(*entry[K, V])
		c.currentWeight += weight - e.weight
		e.weight = weight
		e.value = value
		e.expiration = expiration
		c.ll.MoveToFront(element)
	} else {
		element := c.ll.PushFront(&entry[K, V]{key: key, value: value, weight: weight, expiration: expiration})
		c.cache[key] = element
		c.currentWeight += weight
	}

	// 一个大的新元素可能需要淘汰多个旧元素
	for c.isOverCapacity() {
		c.evict()
	}
}

// Delete 删除一个键，返回它是否存在。
func (c *LRUCache[K, V]) Delete(key K) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	element, ok := c.cache[key]
	if ok {
		c.removeElement(element)
	}
	return ok
}

// DeleteFunc 删除所有满足 match 的键，返回删除的数量。
func (c *LRUCache[K, V]) DeleteFunc(match func(K) bool) int {
	c.lock.Lock()
	defer c.lock.Unlock()

	n := 0
	for key, element := range c.cache {
		if match(key) {
			c.removeElement(element)
			n++
		}
	}
	return n
}

func (c *LRUCache[K, V]) expiredLocked(e *entry[K, V]) bool {
	return !e.expiration.IsZero() && c.config.Now().After(e.expiration)
}

// isOverCapacity 检查缓存是否超出容量或权重限制。
// 此方法假设已持有锁。
func (c *LRUCache[K, V]) isOverCapacity() bool {
	if c.config.Capacity > 0 && c.ll.Len() > c.config.Capacity {
		return true
	}
	return c.config.MaxWeight > 0 && c.currentWeight > c.config.MaxWeight
}

// evict 淘汰最久未使用的元素。
// 此方法假设已持有锁。
func (c *LRUCache[K, V]) evict() {
	if back := c.ll.Back(); back != nil {
		c.removeElement(back)
	}
}

// removeElement 从链表和map中移除元素。
// 此方法假设已持有锁。
func (c *LRUCache[K, V]) removeElement(e *list.Element) {
	c.ll.Remove(e)
	en := e.Value.(*entry[K, V])
	delete(c.cache, en.key)
	c.currentWeight -= en.weight
}

// Len 返回当前缓存中的条目数量，包括尚未被动淘汰的过期条目。
func (c *LRUCache[K, V]) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.ll.Len()
}

// Weight 返回当前缓存中所有元素的总权重。
func (c *LRUCache[K, V]) Weight() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.currentWeight
}
