package redisx

import "time"

const (
	// Cart JSON: cart:{owner_id}
	KeyCart = "cart:%s"

	// Cached order JSON: order:{order_id}
	KeyOrder = "order:%s"

	// Per-year order counter: order:seq:{year}
	KeyOrderSeq = "order:seq:%d"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Distributed lock: lock:{key}, value is the holder's token
	KeyLock = "lock:%s"
)

var (
	TTLCart       = 30 * 24 * time.Hour
	TTLOrderCache = 5 * time.Minute
	TTLDedup      = 48 * time.Hour
	TTLLock       = 10 * time.Second
)
