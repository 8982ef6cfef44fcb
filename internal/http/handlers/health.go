package handlers

import (
	"net/http"
)

// HealthHandler answers provider webhook-verification probes and load
// balancer checks. HEAD gets an empty 200, GET a small static JSON body.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "call-helm"})
}
