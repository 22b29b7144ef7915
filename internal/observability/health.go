package observability

import (
	"context"
	"encoding/json"
	"net/http"
)

// A ReadyCheck probes one backing service (storage, broker, cache). It
// returns nil when the service can take traffic.
type ReadyCheck func(ctx context.Context) error

type probeStatus struct {
	Status string `json:"status"`
}

// HealthHandler serves the liveness probe at /healthz. Liveness only says
// the serve loop dispatches requests, so the answer is always 200
// {"status":"ok"}.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		writeProbe(rw, http.StatusOK, "ok")
	})
}

// ReadyHandler serves the readiness probe at /readyz. It answers 200 once
// every registered check passes and 503 {"status":"unavailable"} while any
// fails. With no checks registered the process is ready by definition.
func ReadyHandler(checks ...ReadyCheck) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		for _, check := range checks {
			if err := check(req.Context()); err != nil {
				writeProbe(rw, http.StatusServiceUnavailable, "unavailable")

				return
			}
		}

		writeProbe(rw, http.StatusOK, "ok")
	})
}

func writeProbe(rw http.ResponseWriter, code int, status string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)

	// The client has already gone away if this write fails; nothing to do.
	_ = json.NewEncoder(rw).Encode(probeStatus{Status: status})
}
