// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package recommend

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorse-io/de4rec/common/log"
	"github.com/gorse-io/de4rec/model"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "de4rec",
		Subsystem: "recommend",
		Name:      "cache_hits_total",
	})
	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "de4rec",
		Subsystem: "recommend",
		Name:      "cache_misses_total",
	})
	ColdStartTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "de4rec",
		Subsystem: "recommend",
		Name:      "cold_start_total",
	})
)

const (
	DefaultCacheTTL      = 10 * time.Minute
	DefaultCacheCapacity = 10000
)

type options struct {
	ttl      time.Duration
	capacity uint64
	popular  []int32
}

type Option func(*options)

// WithCache sets the lifetime and the capacity of cached recommendations.
func WithCache(ttl time.Duration, capacity uint64) Option {
	return func(o *options) {
		o.ttl = ttl
		o.capacity = capacity
	}
}

// WithPopularItems recommends popular items to users without trained embeddings.
func WithPopularItems(items []int32) Option {
	return func(o *options) {
		o.popular = items
	}
}

// Recommender serves recommendations from a snapshot of a model. The snapshot is
// replaced by Update while requests are served.
type Recommender struct {
	mu      sync.RWMutex
	model   *model.DualEncoder
	version string
	popular []int32
	cache   *ttlcache.Cache[string, []int32]
}

func NewRecommender(m *model.DualEncoder, opts ...Option) *Recommender {
	o := options{ttl: DefaultCacheTTL, capacity: DefaultCacheCapacity}
	for _, opt := range opts {
		opt(&o)
	}
	r := &Recommender{
		model:   m.Clone(),
		version: uuid.NewString(),
		popular: o.popular,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, []int32](o.ttl),
			ttlcache.WithCapacity[string, []int32](o.capacity),
			ttlcache.WithDisableTouchOnHit[string, []int32]()),
	}
	go r.cache.Start()
	return r
}

// Update replaces the snapshot by a copy of the model. Cached recommendations of the
// previous snapshot are dropped.
func (r *Recommender) Update(m *model.DualEncoder) {
	snapshot := m.Clone()
	r.mu.Lock()
	r.model = snapshot
	r.version = uuid.NewString()
	r.mu.Unlock()
	r.cache.DeleteAll()
	log.Named(log.Recommend).Info("update recommender snapshot", zap.String("version", r.Version()))
}

// Version identifies the current snapshot.
func (r *Recommender) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

func (r *Recommender) snapshot() (*model.DualEncoder, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model, r.version
}

// RecommendByUser returns k items for a user. Returned slices are shared with the cache
// and must not be modified.
func (r *Recommender) RecommendByUser(userId int32, k int) ([]int32, error) {
	m, version := r.snapshot()
	key := fmt.Sprintf("%s/user/%d/%d", version, userId, k)
	if item := r.cache.Get(key); item != nil {
		CacheHitsTotal.Inc()
		return item.Value(), nil
	}
	CacheMissesTotal.Inc()
	if len(r.popular) > 0 && userId >= 0 && int(userId) < m.Config().UsersSize && !m.IsUserTrained(userId) {
		ColdStartTotal.Inc()
		if k <= 0 {
			return nil, errors.NotValidf("k = %d", k)
		}
		items := r.popular[:min(k, len(r.popular))]
		r.cache.Set(key, items, ttlcache.DefaultTTL)
		return items, nil
	}
	results, err := m.RecommendTopKByUserIDs([]int32{userId}, k)
	if err != nil {
		return nil, errors.Trace(err)
	}
	r.cache.Set(key, results[0], ttlcache.DefaultTTL)
	return results[0], nil
}

// RecommendByUsers returns k items for each user.
func (r *Recommender) RecommendByUsers(userIds []int32, k int) ([][]int32, error) {
	results := make([][]int32, len(userIds))
	for i, userId := range userIds {
		items, err := r.RecommendByUser(userId, k)
		if err != nil {
			return nil, errors.Trace(err)
		}
		results[i] = items
	}
	return results, nil
}

// RecommendByItems returns k items similar to the mean of given items.
func (r *Recommender) RecommendByItems(itemIds []int32, k int) ([]int32, error) {
	m, version := r.snapshot()
	key := fmt.Sprintf("%s/items/%v/%d", version, itemIds, k)
	if item := r.cache.Get(key); item != nil {
		CacheHitsTotal.Inc()
		return item.Value(), nil
	}
	CacheMissesTotal.Inc()
	items, err := m.RecommendTopKByItemIDs(itemIds, k)
	if err != nil {
		return nil, errors.Trace(err)
	}
	r.cache.Set(key, items, ttlcache.DefaultTTL)
	return items, nil
}

// Close stops expiring cached recommendations.
func (r *Recommender) Close() {
	r.cache.Stop()
}
