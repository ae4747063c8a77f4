package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/services/audit"
	"github.com/amerfu/pguard/internal/services/guardrails"
)

type TraceHandler struct {
	logger    *zap.Logger
	validator *guardrails.Validator
	sink      audit.Sink
}

// NewTraceHandler creates the trace endpoints. sink may be nil, in which case
// export answers 503.
func NewTraceHandler(logger *zap.Logger, validator *guardrails.Validator, sink audit.Sink) *TraceHandler {
	return &TraceHandler{
		logger:    logger.Named("trace_handler"),
		validator: validator,
		sink:      sink,
	}
}

type TraceResponse struct {
	Records []guardrails.TraceRecord `json:"records"`
	Count   int                      `json:"count"`
}

// Get returns a snapshot of the trace buffer
func (h *TraceHandler) Get(w http.ResponseWriter, r *http.Request) {
	records := h.validator.Trace()
	if records == nil {
		records = []guardrails.TraceRecord{}
	}
	sendJSON(h.logger, w, http.StatusOK, TraceResponse{Records: records, Count: len(records)})
}

// Export writes the trace to the configured sink. With ?clear=true the
// exported records are removed from the buffer once the sink accepted them.
func (h *TraceHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h.sink == nil {
		sendError(h.logger, w, http.StatusServiceUnavailable, "export_error", "no audit sink configured")
		return
	}

	var (
		n   int
		err error
	)
	clear := r.URL.Query().Get("clear") == "true"
	if clear {
		n, err = h.validator.Flush(r.Context(), h.sink)
	} else {
		n, err = h.validator.ExportTrace(r.Context(), h.sink)
	}
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	sendJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"exported": n,
		"sink":     h.sink.Name(),
		"cleared":  clear,
	})
}

// Delete empties the trace buffer without exporting it
func (h *TraceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	n := h.validator.ClearTrace()
	h.logger.Info("Trace cleared", zap.Int("records", n))
	sendJSON(h.logger, w, http.StatusOK, map[string]int{"cleared": n})
}
