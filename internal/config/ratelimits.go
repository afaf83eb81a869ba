package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// RateLimits is the optional override table mapping api, model, or group
// names to max queries per minute. It is loaded once at startup; resolution
// happens once per bucket at job construction.
type RateLimits map[string]int

// LoadRateLimits reads the JSON override table. A missing path yields an
// empty table.
func LoadRateLimits(path string) (RateLimits, error) {
	if path == "" {
		return RateLimits{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate limit file: %w", err)
	}

	var table RateLimits
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse rate limit file: %w", err)
	}
	for key, limit := range table {
		if limit < 1 {
			return nil, fmt.Errorf("rate limit for %q must be positive, got %d", key, limit)
		}
	}
	return table, nil
}

// Resolve returns the limit for a bucket: the bucket key's override first,
// then the model's, then the default.
func (t RateLimits) Resolve(bucketKey, modelName string, def int) int {
	if limit, ok := t[bucketKey]; ok {
		return limit
	}
	if limit, ok := t[modelName]; ok {
		return limit
	}
	return def
}
