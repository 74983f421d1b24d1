package dc

import (
	"encoding/json"
	"expvar"
	"net/http"
)

// AdminServer serves the observability endpoints of spec.md §6: the raw
// expvar counters and a compact JSON metrics snapshot. A Control never
// starts one on its own — the application wires it in if it wants it,
// mirroring the teacher's admin_server.go being a standalone component
// the host process opts into.
type AdminServer struct {
	ctrl *Control
	mux  *http.ServeMux
	srv  *http.Server
}

// NewAdminServer builds an AdminServer bound to addr. Call Serve to run
// it; it does not start listening on its own.
func NewAdminServer(ctrl *Control, addr string) *AdminServer {
	a := &AdminServer{ctrl: ctrl, mux: http.NewServeMux()}
	a.mux.Handle("/debug/vars", expvar.Handler())
	a.mux.HandleFunc("/dc/status", a.handleStatus)
	a.srv = &http.Server{Addr: addr, Handler: a.mux}
	return a
}

func (a *AdminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := a.ctrl.Metrics()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// Serve blocks, listening on the configured address, until Close is
// called from another goroutine.
func (a *AdminServer) Serve() error {
	err := a.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the admin server down.
func (a *AdminServer) Close() error {
	return a.srv.Close()
}
