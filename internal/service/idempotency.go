package service

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Fingerprint derives a deterministic fingerprint from a tool name and its
// arguments, for callers that do not supply their own.
func Fingerprint(tool string, args map[string]any) string {
	h := xxhash.New()
	_, _ = h.WriteString(tool)
	_, _ = h.Write([]byte{0})
	if len(args) > 0 {
		b, _ := json.Marshal(args)
		_, _ = h.Write(b)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// idempotency coalesces concurrent calls that share a key and remembers
// completed results for a bounded window.
type idempotency struct {
	group  singleflight.Group
	recent *expirable.LRU[string, Result]
}

func newIdempotency(size int, window time.Duration) *idempotency {
	return &idempotency{recent: expirable.NewLRU[string, Result](size, nil, window)}
}

func idempotencyKey(tool, fingerprint string) string {
	return tool + "\x00" + fingerprint
}

// lookup returns a completed result within the window.
func (i *idempotency) lookup(key string) (Result, bool) {
	return i.recent.Get(key)
}

// do runs fn once for all concurrent callers of key. Every caller receives
// the same Result. fn decides whether its result is remembered.
func (i *idempotency) do(key string, fn func() (Result, bool, error)) (Result, error) {
	v, err, _ := i.group.Do(key, func() (any, error) {
		res, remember, err := fn()
		if err == nil && remember {
			i.recent.Add(key, res)
		}
		return res, err
	})
	res, _ := v.(Result)
	return res, err
}
