package cache

import "time"

// BytesCache stores pre-rendered response payloads for the ops API. Both
// implementations treat a miss and an expired entry the same way: (nil,
// false, nil), so handlers fall through to a fresh render.
type BytesCache interface {
	GetBytes(key string) (b []byte, ok bool, err error)
	SetBytes(key string, value []byte, ttl time.Duration) error
}
