package httptransport

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/api"
)

func encodeEnvelope(env api.Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		log.WithError(err).Error("failed to encode response envelope")
		return []byte(`{"success":false,"message":"internal error"}`)
	}
	return data
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeEnvelope(w http.ResponseWriter, status int, env api.Envelope) {
	writeRaw(w, status, encodeEnvelope(env))
}

func writeData(w http.ResponseWriter, status int, data any, message string) {
	env, err := api.NewEnvelope(data, message)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, api.Envelope{Message: "internal error"})
		return
	}
	writeEnvelope(w, status, env)
}
