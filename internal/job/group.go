package job

import (
	"github.com/promptpipe/promptpipe/internal/config"
	"github.com/promptpipe/promptpipe/internal/domain"
)

// Bucket is one rate-limit lane: the records sharing a bucket key and the
// queries-per-minute limit resolved for them. Buckets run concurrently with
// each other; throttling applies only within a bucket.
type Bucket struct {
	Key       string
	RateLimit int
	Records   []*domain.Record
}

// buildBuckets groups records by explicit group, falling back to api, in
// original file order. The rate limit is resolved once per bucket from the
// override table, keyed off the bucket's first record.
func buildBuckets(records []*domain.Record, limits config.RateLimits, defaultLimit int) map[string]*Bucket {
	buckets := make(map[string]*Bucket)
	for _, rec := range records {
		key := rec.BucketKey()
		b, ok := buckets[key]
		if !ok {
			b = &Bucket{
				Key:       key,
				RateLimit: limits.Resolve(key, rec.ModelName, defaultLimit),
			}
			buckets[key] = b
		}
		b.Records = append(b.Records, rec)
	}
	return buckets
}
