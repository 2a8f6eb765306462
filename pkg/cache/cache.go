// Package cache implements the read-through cache in front of the executor.
// Keys carry the build id and the policy config version, so a policy edit
// moves every request onto fresh keys without an explicit flush.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"araquem/internal/pkg/logger"
	"araquem/pkg/metrics"
	"araquem/pkg/policy"
)

const (
	keyPrefix = "araquem"
	guardTTL  = time.Second
	hashLen   = 16
)

type Cache struct {
	backend Backend
	build   string
	log     logger.ILogger
}

func New(backend Backend, buildID string, log logger.ILogger) *Cache {
	if buildID == "" {
		buildID = "dev"
	}
	return &Cache{backend: backend, build: buildID, log: log}
}

func (c *Cache) Backend() Backend { return c.backend }

// Request identifies one cacheable fetch.
type Request struct {
	Version  string
	Policy   *policy.CachePolicy
	Entity   string
	Identity map[string]interface{}
}

// Result describes what the cache did for a request.
type Result struct {
	Hit    bool   `json:"hit"`
	Key    string `json:"key,omitempty"`
	TTL    int    `json:"ttl,omitempty"`
	Bypass bool   `json:"bypass,omitempty"`
}

// Key renders araquem:{build}:{version}:{scope}:{entity}:{hash}. The hash
// covers the JSON encoding of identity, whose map keys encoding/json sorts.
func Key(build, version, scope, entity string, identity map[string]interface{}) string {
	raw, err := json.Marshal(identity)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", identity))
	}
	sum := sha1.Sum(raw)
	return strings.Join([]string{keyPrefix, build, version, scope, entity, hex.EncodeToString(sum[:])[:hashLen]}, ":")
}

// KeyFor resolves the entity rule and renders its key. ok is false when the
// entity has no cache policy.
func (c *Cache) KeyFor(req Request) (string, policy.EntityCacheRule, bool) {
	rule, ok := req.Policy.For(req.Entity)
	if !ok {
		return "", rule, false
	}
	return Key(c.build, req.Version, rule.Scope, req.Entity, req.Identity), rule, true
}

// ReadThrough returns the cached value for req or calls fetch and stores its
// result. Empty payloads are never written. Backend failures are logged and
// counted, and the call proceeds as a miss.
func ReadThrough[T any](ctx context.Context, c *Cache, req Request, fetch func(context.Context) (T, error)) (T, Result, error) {
	if c == nil {
		v, err := fetch(ctx)
		return v, Result{Bypass: true}, err
	}
	key, rule, ok := c.KeyFor(req)
	if !ok {
		metrics.CacheOps.WithLabelValues(req.Entity, "bypass").Inc()
		v, err := fetch(ctx)
		return v, Result{Bypass: true}, err
	}
	res := Result{Key: key, TTL: int(rule.TTL.Seconds())}

	raw, err := c.backend.Get(ctx, key)
	switch {
	case err == nil:
		var v T
		uerr := json.Unmarshal(raw, &v)
		if uerr == nil {
			c.once(ctx, key, req.Entity, "hit")
			res.Hit = true
			return v, res, nil
		}
		c.fail("decode", key, uerr)
	case !errors.Is(err, ErrMiss):
		c.fail("get", key, err)
	}

	c.once(ctx, key, req.Entity, "miss")
	c.cleanupLegacy(ctx, req)

	v, err := fetch(ctx)
	if err != nil {
		return v, res, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.fail("encode", key, err)
		return v, res, nil
	}
	if IsEmpty(data) {
		metrics.CacheOps.WithLabelValues(req.Entity, "skip_empty").Inc()
		return v, res, nil
	}
	if err := c.backend.Set(ctx, key, data, rule.TTL); err != nil {
		c.fail("set", key, err)
		return v, res, nil
	}
	metrics.CacheOps.WithLabelValues(req.Entity, "write").Inc()
	return v, res, nil
}

// Bust deletes one computed key.
func (c *Cache) Bust(ctx context.Context, req Request) (string, bool, error) {
	key, _, ok := c.KeyFor(req)
	if !ok {
		return "", false, fmt.Errorf("cache: entity %q has no cache policy", req.Entity)
	}
	n, err := c.backend.Del(ctx, key)
	if err != nil {
		c.fail("bust", key, err)
		return key, false, err
	}
	metrics.CacheOps.WithLabelValues(req.Entity, "bust").Inc()
	c.log.Info("CACHE", "Key busted", map[string]interface{}{"key": key, "deleted": n})
	return key, n > 0, nil
}

// once counts op for key at most once per guard window, so concurrent
// fan-out on the same key reports one hit or miss. It is advisory only.
func (c *Cache) once(ctx context.Context, key, entity, op string) {
	first, err := c.backend.SetNX(ctx, key+":"+op+"-once", guardTTL)
	if err != nil {
		c.fail("guard", key, err)
		return
	}
	if first {
		metrics.CacheOps.WithLabelValues(entity, op).Inc()
	}
}

func (c *Cache) cleanupLegacy(ctx context.Context, req Request) {
	if req.Policy == nil {
		return
	}
	for _, pattern := range req.Policy.LegacyCleanupScan {
		p, ok := expandPattern(pattern, req.Entity, req.Identity)
		if !ok {
			continue
		}
		keys, err := c.backend.Scan(ctx, p)
		if err != nil {
			c.fail("legacy_scan", p, err)
			continue
		}
		if len(keys) == 0 {
			continue
		}
		if _, err := c.backend.Del(ctx, keys...); err != nil {
			c.fail("legacy_del", p, err)
			continue
		}
		c.log.Info("CACHE", "Legacy keys removed", map[string]interface{}{"pattern": p, "count": len(keys)})
	}
}

// expandPattern fills {entity} and {<identity key>} placeholders. Patterns
// with placeholders left unresolved are skipped.
func expandPattern(pattern, entity string, identity map[string]interface{}) (string, bool) {
	out := strings.ReplaceAll(pattern, "{entity}", entity)
	for k, v := range identity {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		out = strings.ReplaceAll(out, "{"+k+"}", s)
	}
	return out, !strings.ContainsAny(out, "{}")
}

func (c *Cache) fail(op, key string, err error) {
	metrics.CacheErrors.WithLabelValues(op).Inc()
	metrics.Errors.WithLabelValues(metrics.KindCache).Inc()
	c.log.Warn("CACHE", "Cache operation failed", map[string]interface{}{
		"op":    op,
		"key":   key,
		"error": err.Error(),
	})
}

// IsEmpty reports whether an encoded payload carries no data: null, an empty
// list, {rows: []}, {results: {...empty}} or a map of only empty collections.
func IsEmpty(data []byte) bool {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return false
	}
	return emptyValue(v)
}

func emptyValue(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case []interface{}:
		return len(x) == 0
	case map[string]interface{}:
		if r, ok := x["results"]; ok {
			return emptyValue(r)
		}
		if r, ok := x["rows"]; ok {
			return emptyValue(r)
		}
		for _, e := range x {
			switch e.(type) {
			case []interface{}, map[string]interface{}, nil:
				if !emptyValue(e) {
					return false
				}
			default:
				return false
			}
		}
		return true
	default:
		return false
	}
}
