// Package cache implements the three-tier (L1/L2/L3) topic cache described
// in SPEC_FULL.md §4.1: promotion on repeated access, demotion on capacity
// overflow, and synchronous durable persistence of every mutation.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/developer-mesh/rag-retrieval-core/internal/errs"
	"github.com/developer-mesh/rag-retrieval-core/internal/observability"
	"github.com/developer-mesh/rag-retrieval-core/internal/store"
	"github.com/developer-mesh/rag-retrieval-core/internal/topic"
)

// Clock lets tests substitute a deterministic time source; production code
// leaves it nil and gets time.Now.
type Clock func() time.Time

// Config configures tier capacities and promotion thresholds, matching
// SPEC_FULL.md's CacheConfig defaults (32/128/1024, thresholds 8/3).
type Config struct {
	L1Capacity  int
	L2Capacity  int
	L3Capacity  int
	L2Threshold int64 // access_count required to promote L2 -> L1
	L3Threshold int64 // access_count required to promote L3 -> L2
	Debug       bool
}

// cacheNode is owned by exactly one tier at a time; level records which.
// The directory indexes nodes by key but never owns them — deletion always
// goes through the owning tier first.
type cacheNode struct {
	key   topic.Key
	state topic.State
	level int
}

// TopicCache is the three-tier ordered cache. It is safe for concurrent use:
// every public method holds a single mutex spanning both the in-memory
// mutation and the synchronous durable write, per SPEC_FULL.md §5.
type TopicCache struct {
	cfg   Config
	store store.CacheStore
	clock Clock

	logger  observability.Logger
	metrics observability.MetricsClient

	mu        sync.Mutex
	tiers     [4]*list.List                    // index 1,2,3; 0 unused
	elements  [4]map[topic.Key]*list.Element    // index 1,2,3; 0 unused
	directory map[topic.Key]*cacheNode
}

// Option configures optional collaborators on construction.
type Option func(*TopicCache)

// WithLogger injects a logger; the default is a standard stderr logger.
func WithLogger(l observability.Logger) Option { return func(c *TopicCache) { c.logger = l } }

// WithMetrics injects a metrics client; the default is a Prometheus client.
func WithMetrics(m observability.MetricsClient) Option {
	return func(c *TopicCache) { c.metrics = m }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(clock Clock) Option { return func(c *TopicCache) { c.clock = clock } }

// New constructs a TopicCache, replaying persisted rows from store into
// their recorded tiers ordered by LastAccessTS ascending (SPEC_FULL.md
// §4.1), so the most-recently-accessed row lands at the back of its tier.
func New(ctx context.Context, cfg Config, st store.CacheStore, opts ...Option) (*TopicCache, error) {
	if cfg.L1Capacity <= 0 || cfg.L2Capacity <= 0 || cfg.L3Capacity <= 0 {
		return nil, errs.ErrInvalidCapacity
	}
	if cfg.L2Threshold <= 0 {
		cfg.L2Threshold = 8
	}
	if cfg.L3Threshold <= 0 {
		cfg.L3Threshold = 3
	}

	c := &TopicCache{
		cfg:       cfg,
		store:     st,
		directory: make(map[topic.Key]*cacheNode),
	}
	for lvl := 1; lvl <= 3; lvl++ {
		c.tiers[lvl] = list.New()
		c.elements[lvl] = make(map[topic.Key]*list.Element)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = observability.NewLogger("cache.topic")
	}
	if c.metrics == nil {
		c.metrics = observability.NewMetricsClient()
	}
	if c.clock == nil {
		c.clock = time.Now
	}

	if st != nil {
		rows, err := st.LoadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load cache entries: %w", err)
		}
		for _, row := range rows {
			node := &cacheNode{key: row.Key, state: row.State, level: row.Level}
			c.directory[row.Key] = node
			elem := c.tiers[row.Level].PushBack(node)
			c.elements[row.Level][row.Key] = elem
		}
	}

	return c, nil
}

func (c *TopicCache) now() float64 { return float64(c.clock().UnixNano()) / 1e9 }

// Lookup returns the current state for key if present, updating access
// statistics and possibly promoting the node. Returns (state, false) on a
// miss with no side effects, per SPEC_FULL.md §4.1.
func (c *TopicCache) Lookup(ctx context.Context, key topic.Key) (topic.State, bool, error) {
	ctx, span := observability.StartSpan(ctx, "cache.lookup")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.directory[key]
	if !ok {
		c.metrics.IncrementCounterWithLabels("cache_lookup_total", 1, map[string]string{"result": "miss"})
		return topic.State{}, false, nil
	}

	if err := c.onAccess(ctx, node); err != nil {
		return topic.State{}, false, err
	}
	if err := c.maybePromote(ctx, node); err != nil {
		return topic.State{}, false, err
	}

	if c.cfg.Debug {
		c.assertInvariants()
	}

	c.metrics.IncrementCounterWithLabels("cache_lookup_total", 1, map[string]string{"result": "hit"})
	return node.state.Clone(), true, nil
}

// InsertNew inserts a fresh node for key into L3, unless key already exists
// — in which case it returns the existing state unchanged (idempotent,
// SPEC_FULL.md §8 property 7).
func (c *TopicCache) InsertNew(ctx context.Context, key topic.Key, chunkIDs []string) (topic.State, error) {
	ctx, span := observability.StartSpan(ctx, "cache.insert_new")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.directory[key]; ok {
		return existing.state.Clone(), nil
	}

	now := c.now()
	state := topic.State{
		CachedChunkIDs: append([]string(nil), chunkIDs...),
		AccessCount:    1,
		LastAccessTS:   now,
		FirstSeenTS:    now,
		Score:          1.1,
		Confidence:     0,
	}
	node := &cacheNode{key: key, state: state, level: 3}

	if err := c.persist(ctx, node); err != nil {
		return topic.State{}, err
	}

	elem := c.tiers[3].PushBack(node)
	c.elements[3][key] = elem
	c.directory[key] = node

	if err := c.enforceCapacity(ctx, 3); err != nil {
		return topic.State{}, err
	}

	if c.cfg.Debug {
		c.assertInvariants()
	}

	c.metrics.IncrementCounterWithLabels("cache_insert_total", 1, nil)
	return node.state.Clone(), nil
}

func (c *TopicCache) onAccess(ctx context.Context, node *cacheNode) error {
	prev := node.state

	node.state.AccessCount++
	node.state.LastAccessTS = c.now()
	node.state.RefreshScore()

	if err := c.persist(ctx, node); err != nil {
		node.state = prev
		return err
	}

	// Move to the back (most recent) of its current tier.
	lvl := node.level
	if elem, ok := c.elements[lvl][node.key]; ok {
		c.tiers[lvl].MoveToBack(elem)
	}

	return nil
}

func (c *TopicCache) maybePromote(ctx context.Context, node *cacheNode) error {
	switch {
	case node.level == 3 && node.state.AccessCount >= c.cfg.L3Threshold:
		return c.promote(ctx, node, 2)
	case node.level == 2 && node.state.AccessCount >= c.cfg.L2Threshold:
		return c.promote(ctx, node, 1)
	}
	return nil
}

func (c *TopicCache) promote(ctx context.Context, node *cacheNode, toLevel int) error {
	fromLevel := node.level

	node.level = toLevel
	if err := c.persist(ctx, node); err != nil {
		node.level = fromLevel
		return err
	}

	if elem, ok := c.elements[fromLevel][node.key]; ok {
		c.tiers[fromLevel].Remove(elem)
		delete(c.elements[fromLevel], node.key)
	}
	elem := c.tiers[toLevel].PushBack(node)
	c.elements[toLevel][node.key] = elem

	c.metrics.IncrementCounterWithLabels("cache_promotion_total", 1, map[string]string{
		"from": fmt.Sprintf("L%d", fromLevel), "to": fmt.Sprintf("L%d", toLevel),
	})

	return c.enforceCapacity(ctx, toLevel)
}

// enforceCapacity demotes/evicts from level downward until it is back at or
// under capacity, cascading into lower tiers as needed.
func (c *TopicCache) enforceCapacity(ctx context.Context, level int) error {
	cap := c.capacityOf(level)
	for c.tiers[level].Len() > cap {
		front := c.tiers[level].Front()
		node := front.Value.(*cacheNode)

		if level == 3 {
			if err := c.evict(ctx, node); err != nil {
				return err
			}
			continue
		}

		toLevel := level + 1
		node.level = toLevel
		if err := c.persist(ctx, node); err != nil {
			node.level = level
			return err
		}
		c.tiers[level].Remove(front)
		delete(c.elements[level], node.key)
		elem := c.tiers[toLevel].PushBack(node)
		c.elements[toLevel][node.key] = elem

		c.metrics.IncrementCounterWithLabels("cache_demotion_total", 1, map[string]string{
			"from": fmt.Sprintf("L%d", level), "to": fmt.Sprintf("L%d", toLevel),
		})

		if err := c.enforceCapacity(ctx, toLevel); err != nil {
			return err
		}
	}
	return nil
}

func (c *TopicCache) evict(ctx context.Context, node *cacheNode) error {
	if err := c.store.Delete(ctx, node.key); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrPersistence, err)
	}

	elem := c.elements[3][node.key]
	c.tiers[3].Remove(elem)
	delete(c.elements[3], node.key)
	delete(c.directory, node.key)

	c.metrics.IncrementCounterWithLabels("cache_eviction_total", 1, nil)
	c.logger.Info("evicted cache entry", map[string]interface{}{"topic_label": node.key.TopicLabel})
	return nil
}

func (c *TopicCache) capacityOf(level int) int {
	switch level {
	case 1:
		return c.cfg.L1Capacity
	case 2:
		return c.cfg.L2Capacity
	default:
		return c.cfg.L3Capacity
	}
}

func (c *TopicCache) persist(ctx context.Context, node *cacheNode) error {
	if c.store == nil {
		return nil
	}
	row := store.CacheRow{Key: node.key, State: node.state, Level: node.level}
	if err := c.store.Upsert(ctx, row); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrPersistence, err)
	}
	return nil
}

// DebugCounts returns the size of each tier plus the directory total.
func (c *TopicCache) DebugCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Debug {
		c.assertInvariants()
	}
	return map[string]int{
		"L1":    c.tiers[1].Len(),
		"L2":    c.tiers[2].Len(),
		"L3":    c.tiers[3].Len(),
		"TOTAL": len(c.directory),
	}
}

// DebugDumpLevels returns the keys in each tier, in recency order
// (least-recent first).
func (c *TopicCache) DebugDumpLevels() map[string][]topic.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Debug {
		c.assertInvariants()
	}
	out := make(map[string][]topic.Key, 3)
	for lvl, name := range map[int]string{1: "L1", 2: "L2", 3: "L3"} {
		keys := make([]topic.Key, 0, c.tiers[lvl].Len())
		for e := c.tiers[lvl].Front(); e != nil; e = e.Next() {
			keys = append(keys, e.Value.(*cacheNode).key)
		}
		out[name] = keys
	}
	return out
}

// assertInvariants panics if the cache's structural invariants are
// violated. Called only when Config.Debug is set, per SPEC_FULL.md §4.1.
func (c *TopicCache) assertInvariants() {
	seen := make(map[topic.Key]int, len(c.directory))
	for lvl := 1; lvl <= 3; lvl++ {
		for e := c.tiers[lvl].Front(); e != nil; e = e.Next() {
			node := e.Value.(*cacheNode)
			if node.level != lvl {
				panic(fmt.Sprintf("cache invariant violated: node %v has level %d but lives in tier %d", node.key, node.level, lvl))
			}
			seen[node.key]++
		}
	}
	if len(seen) != len(c.directory) {
		panic("cache invariant violated: tier keys and directory keys diverge")
	}
	for k, count := range seen {
		if count != 1 {
			panic(fmt.Sprintf("cache invariant violated: key %v present in %d tiers", k, count))
		}
		if _, ok := c.directory[k]; !ok {
			panic(fmt.Sprintf("cache invariant violated: key %v missing from directory", k))
		}
	}
}
