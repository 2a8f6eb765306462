package memory

import (
	"time"

	"araquem/pkg/orchestrator"

	"github.com/patrickmn/go-cache"
)

// LastReferenceRepository remembers the last resolved tickers per conversation.
type LastReferenceRepository struct {
	cache *cache.Cache
}

func NewLastReferenceRepository() *LastReferenceRepository {
	// entries carry their own ttl from the context policy; purge every 5 minutes
	c := cache.New(30*time.Minute, 5*time.Minute)
	return &LastReferenceRepository{
		cache: c,
	}
}

func (r *LastReferenceRepository) Put(conversationID string, ref orchestrator.LastReference, ttl time.Duration) {
	if ttl <= 0 {
		ttl = cache.DefaultExpiration
	}
	r.cache.Set(conversationID, ref, ttl)
}

func (r *LastReferenceRepository) Get(conversationID string) (orchestrator.LastReference, bool) {
	if x, found := r.cache.Get(conversationID); found {
		return x.(orchestrator.LastReference), true
	}
	return orchestrator.LastReference{}, false
}

func (r *LastReferenceRepository) Delete(conversationID string) {
	r.cache.Delete(conversationID)
}

func (r *LastReferenceRepository) Len() int {
	return r.cache.ItemCount()
}
