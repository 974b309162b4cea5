package handlers

import (
	"io"
	"net/http"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/common/logging"
)

// maxWebhookBody caps inbound webhook payloads at 1 MiB
const maxWebhookBody = 1 << 20

// HandleWebhook receives a vendor webhook delivery, verifies it, and
// enqueues the parsed event. Responds 204 once the event is durably
// queued; the data fetch happens asynchronously.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	base, ok := h.vendorBase(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxWebhookBody {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	traceID, err := base.ProcessWebhook(r.Context(), headers, body)
	if err != nil {
		// Signature and parse details stay in the logs; vendors get
		// nothing beyond the status code.
		if errors.IsType(err, errors.ErrTypeWebhook) {
			w.WriteHeader(statusForError(err))
			return
		}
		writeError(w, err)
		return
	}

	h.logger.Debug("Webhook accepted",
		logging.Field{Key: "vendor", Value: string(base.Vendor())},
		logging.Field{Key: "trace_id", Value: traceID},
	)
	w.WriteHeader(http.StatusNoContent)
}
