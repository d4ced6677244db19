package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// Pinger is implemented by *pgxpool.Pool, *redis.Client and similar dependencies.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type Status struct {
	OK      bool            `json:"ok"`
	Message string          `json:"message,omitempty"`
	Checks  map[string]bool `json:"checks,omitempty"`
}

// DefaultTimeout bounds each dependency check.
const DefaultTimeout = time.Second

// Check pings every dependency and reports the combined status. Nil pingers are skipped.
func Check(ctx context.Context, deps map[string]Pinger, timeout time.Duration) Status {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	st := Status{OK: true, Message: "ok"}
	names := make([]string, 0, len(deps))
	for name, p := range deps {
		if p != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if st.Checks == nil {
			st.Checks = make(map[string]bool, len(names))
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		err := deps[name].Ping(cctx)
		cancel()
		st.Checks[name] = err == nil
		if err != nil && st.OK {
			st.OK = false
			st.Message = name + " ping failed"
		}
	}
	return st
}

// HTTPHandler returns an HTTP handler that reports the health status of the service
func HTTPHandler(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Check(r.Context(), deps, DefaultTimeout)
		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
