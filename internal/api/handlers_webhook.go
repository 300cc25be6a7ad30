package api

import (
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

const postmarkSignatureHeader = "X-Postmark-Signature"

// handlePostmarkWebhook always answers 200 so Postmark does not retry events
// we cannot use. Failures are logged.
func (h *Handler) handlePostmarkWebhook(w http.ResponseWriter, r *http.Request) {
	logger := h.log.WithField("webhook", "postmark")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.WithError(err).Warn("failed to read webhook body")
		writeJSON(w, http.StatusOK, map[string]interface{}{"received": false})
		return
	}

	if !h.suppressions.VerifySignature(body, r.Header.Get(postmarkSignatureHeader)) {
		logger.Warn("webhook signature mismatch; event ignored")
		writeJSON(w, http.StatusOK, map[string]interface{}{"received": false})
		return
	}

	outcome, err := h.suppressions.HandlePostmarkEvent(r.Context(), body)
	if err != nil {
		logger.WithError(err).Error("failed to process webhook event")
		writeJSON(w, http.StatusOK, map[string]interface{}{"received": true})
		return
	}

	logger.WithFields(logrus.Fields{
		"action":   outcome.Action,
		"event_id": outcome.EventID,
	}).Info("webhook event processed")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"received": true,
		"action":   outcome.Action,
	})
}
