package cache

import (
	"fmt"
	"time"
)

const (
	RecentPostsKey       = "posts:recent"
	SearchMetricsKey     = "posts:search-metrics"
	CounterKeyPrefix     = "counter:%s"
	VerifyCooldownPrefix = "verify:cooldown:%s"
	RateLimitPrefix      = "rl:%s:%s"
)

const (
	RecentPostsTTL   = 10 * time.Minute
	SearchMetricsTTL = time.Minute
	CounterTTL       = time.Minute
)

func CounterKey(label string) string {
	return fmt.Sprintf(CounterKeyPrefix, label)
}

func VerifyCooldownKey(contact string) string {
	return fmt.Sprintf(VerifyCooldownPrefix, contact)
}

func RateLimitKey(resource, id string) string {
	return fmt.Sprintf(RateLimitPrefix, resource, id)
}
