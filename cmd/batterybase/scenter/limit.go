package scenter

import (
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"
)

// Limit rejects requests above rps per second, allowing bursts of burst requests,
// with 429 Too Many Requests. A zero rps returns next unchanged.
func Limit(next http.Handler, rps float64, burst int) http.Handler {
	if rps <= 0 {
		return next
	}

	limiter := rate.NewLimiter(rate.Limit(rps), max(burst, 1))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			log.Debug("request rate limited", "remote", r.RemoteAddr)
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
