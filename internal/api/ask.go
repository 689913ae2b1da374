package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const maxAskBodyBytes = 64 << 10

type askRequest struct {
	Message string `json:"message"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Asker == nil {
		writeError(w, http.StatusInternalServerError, "ask service is not configured")
		return
	}

	var req askRequest
	body := http.MaxBytesReader(w, r.Body, maxAskBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	sessionID := SessionIDFromContext(r.Context())
	response, err := deps.Asker.Answer(r.Context(), sessionID, req.Message)
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.Error("answer failed", "session_id", sessionID, "error", err)
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func handleReset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Asker == nil {
		writeError(w, http.StatusInternalServerError, "ask service is not configured")
		return
	}

	sessionID := SessionIDFromContext(r.Context())
	if err := deps.Asker.Reset(r.Context(), sessionID); err != nil {
		if deps.Logger != nil {
			deps.Logger.Error("reset failed", "session_id", sessionID, "error", err)
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Conversation history has been reset."})
}
