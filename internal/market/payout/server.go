package payout

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nazeru/market-ledger-go/pkg/logging"
	"github.com/nazeru/market-ledger-go/pkg/metrics"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/coordinator"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/protocol"
)

// Handler serves a vault as a 2pc participant: POST /2pc/prepare, /2pc/commit
// and /2pc/abort. A no vote is answered with 409 and {"error": reason}, which
// is what HTTPVault expects.
func Handler(v coordinator.ParticipantClient, m *metrics.ServerMetrics, service string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /2pc/prepare", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req protocol.PrepareRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			reply(w, m, "2pc_prepare", start, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
		resp, err := v.Prepare(r.Context(), req)
		switch {
		case err != nil:
			logging.Log(logging.Fields{Service: service, TxID: string(req.TxID), Step: "2pc_prepare", Status: "error", Message: err.Error()})
			reply(w, m, "2pc_prepare", start, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		case !resp.VoteYes:
			logging.Log(logging.Fields{Service: service, TxID: string(req.TxID), Step: "2pc_prepare", Status: "vote_no", Message: resp.Reason})
			reply(w, m, "2pc_prepare", start, http.StatusConflict, map[string]any{"error": resp.Reason})
		default:
			logging.Log(logging.Fields{Service: service, TxID: string(req.TxID), Step: "2pc_prepare", Status: "prepared"})
			reply(w, m, "2pc_prepare", start, http.StatusOK, resp)
		}
	})
	mux.HandleFunc("POST /2pc/commit", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req protocol.CommitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			reply(w, m, "2pc_commit", start, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
		finish(w, m, service, "2pc_commit", "committed", string(req.TxID), start, v.Commit(r.Context(), req))
	})
	mux.HandleFunc("POST /2pc/abort", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req protocol.AbortRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			reply(w, m, "2pc_abort", start, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
		finish(w, m, service, "2pc_abort", "aborted", string(req.TxID), start, v.Abort(r.Context(), req))
	})
	return mux
}

func finish(w http.ResponseWriter, m *metrics.ServerMetrics, service, step, status, txid string, start time.Time, err error) {
	if err != nil {
		logging.Log(logging.Fields{Service: service, TxID: txid, Step: step, Status: "error", Message: err.Error()})
		reply(w, m, step, start, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	logging.Log(logging.Fields{Service: service, TxID: txid, Step: step, Status: status})
	reply(w, m, step, start, http.StatusOK, map[string]any{"status": "ok"})
}

func reply(w http.ResponseWriter, m *metrics.ServerMetrics, handler string, start time.Time, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
	m.Observe(handler, code, start)
}
