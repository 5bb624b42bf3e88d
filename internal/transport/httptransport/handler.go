package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/awmpietro/cloudmake/internal/app"
	"github.com/awmpietro/cloudmake/internal/transport/analyzedto"
)

type Handler struct {
	svc app.AnalyzeService
}

func NewHandler(svc app.AnalyzeService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in analyzedto.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, analyzedto.ErrorBody("invalid json", err))
		return
	}

	out, err := analyzedto.Run(h.svc, in)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, analyzedto.ErrorBody("analyze failed", err))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
