package media

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID 返回小写 ULID，按时间有序，并且只含 [0-9a-z]，可以直接放进存储 key。
func NewID() string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return strings.ToLower(id.String())
}

// IDFromKey 从 "timestamp-id-name" 形式的 key 中取出 id 段，无法解析时返回整个 key。
func IDFromKey(key string) string {
	base := key
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		base = key[i+1:]
	}
	parts := strings.SplitN(base, "-", 3)
	if len(parts) == 3 && isDigits(parts[0]) && parts[1] != "" {
		return parts[1]
	}
	return key
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
