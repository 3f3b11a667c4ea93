// Package httpadapter exposes the advice pipeline over HTTP.
package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
	"github.com/oncallai/clinical-assistant/internal/core/ports"
	"github.com/oncallai/clinical-assistant/internal/observability/metrics"
)

// maxQueryBytes bounds request bodies; clinical queries are short.
const maxQueryBytes = 16 << 10

type Router struct {
	service ports.AdviceService
	metrics *metrics.APIMetrics
	name    string
}

func NewRouter(service ports.AdviceService, m *metrics.APIMetrics, serviceName string) *Router {
	if serviceName == "" {
		serviceName = "clinical-assistant"
	}
	return &Router{service: service, metrics: m, name: serviceName}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/resolve", rt.resolveCondition)
	mux.HandleFunc("/v1/advice", rt.generateAdvice)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.name, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryRequest struct {
	Query     string `json:"query"`
	Intention string `json:"intention"`
}

type resolveResponse struct {
	Level             string  `json:"level"`
	Source            string  `json:"source,omitempty"`
	Condition         string  `json:"condition,omitempty"`
	EmergencyKeywords string  `json:"emergency_keywords,omitempty"`
	TreatmentKeywords string  `json:"treatment_keywords,omitempty"`
	ElapsedSeconds    float64 `json:"elapsed_seconds"`
	Message           string  `json:"message,omitempty"`
}

type adviceResponse struct {
	Resolution resolveResponse          `json:"resolution"`
	Guidelines []domain.RetrievalResult `json:"guidelines"`
	Advice     domain.GeneratedAdvice   `json:"advice"`
	Stats      domain.RetrievalStats    `json:"retrieval_stats"`
}

func toResolveResponse(match domain.ConditionMatch) resolveResponse {
	return resolveResponse{
		Level:             match.Level.String(),
		Source:            string(match.Source),
		Condition:         match.Condition,
		EmergencyKeywords: match.EmergencyKeywords,
		TreatmentKeywords: match.TreatmentKeywords,
		ElapsedSeconds:    match.Elapsed.Seconds(),
		Message:           match.Message,
	}
}

func (rt *Router) resolveCondition(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeQuery(w, r)
	if !ok {
		return
	}

	match, err := rt.service.Resolve(r.Context(), req.Query)
	if err != nil {
		rt.writeError(w, r, "resolve", err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordResolution(rt.name, match.Level.String(), string(match.Source), match.Elapsed)
	}
	writeJSON(w, http.StatusOK, toResolveResponse(match))
}

func (rt *Router) generateAdvice(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeQuery(w, r)
	if !ok {
		return
	}

	intention := domain.Intention(strings.ToLower(strings.TrimSpace(req.Intention)))
	switch intention {
	case "", domain.IntentionDiagnosis, domain.IntentionTreatment:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "intention must be \"diagnosis\" or \"treatment\""})
		return
	}

	resp, err := rt.service.Advise(r.Context(), req.Query, intention)
	if err != nil {
		rt.writeError(w, r, "advice", err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordResolution(rt.name, resp.Match.Level.String(), string(resp.Match.Source), resp.Match.Elapsed)
		rt.metrics.RecordRetrieval(rt.name, string(domain.CorpusEmergency), resp.Stats.EmergencyChunks)
		rt.metrics.RecordRetrieval(rt.name, string(domain.CorpusTreatment), resp.Stats.TreatmentChunks)
		rt.metrics.RecordRetrieval(rt.name, string(domain.CorpusHospital), resp.Stats.HospitalChunks)
		rt.metrics.RecordDuplicatesRemoved(rt.name, resp.Stats.DuplicatesRemoved)
		status := "ok"
		if resp.Advice.Confidence == 0 {
			status = "degraded"
		}
		rt.metrics.RecordAdvice(rt.name, status, resp.Advice.Confidence, resp.Match.Elapsed)
	}

	guidelines := resp.Guidelines
	if guidelines == nil {
		guidelines = []domain.RetrievalResult{}
	}
	writeJSON(w, http.StatusOK, adviceResponse{
		Resolution: toResolveResponse(resp.Match),
		Guidelines: guidelines,
		Advice:     resp.Advice,
		Stats:      resp.Stats,
	})
}

func (rt *Router) decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return queryRequest{}, false
	}

	var req queryRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return queryRequest{}, false
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return queryRequest{}, false
	}
	return req, true
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	status := mapErrorToHTTPStatus(err)
	slog.Error("request_failed",
		"request_id", requestIDFromContext(r.Context()),
		"endpoint", endpoint,
		"status", status,
		"error", err,
	)
	writeJSON(w, status, map[string]string{"error": publicErrorMessage(status)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("response_encode_failed", "error", err)
	}
}
