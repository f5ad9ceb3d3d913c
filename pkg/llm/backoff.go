package llm

import (
	"math/rand"
	"time"
)

const maxAttempts = 3

// Backoff windows between attempts: a failed first attempt waits a
// uniformly random duration in [1s,30s), the second in [30s,60s), the
// third exhausts the primary model and routes to the fallback.
var backoffWindows = [...]struct{ lo, hi time.Duration }{
	{1 * time.Second, 30 * time.Second},
	{30 * time.Second, 60 * time.Second},
	{60 * time.Second, 90 * time.Second},
}

func backoffWait(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(backoffWindows) {
		attempt = len(backoffWindows)
	}
	w := backoffWindows[attempt-1]
	return w.lo + time.Duration(rand.Int63n(int64(w.hi-w.lo)))
}
