package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"guarddog/api/internal/storage"
	"guarddog/internal/model"
	"guarddog/internal/pipeline"
	"guarddog/internal/rules"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 10 << 20

type Handlers struct {
	store     *storage.Storage
	processor *pipeline.Processor
	logger    *logrus.Logger
	upgrader  websocket.Upgrader
}

func NewHandlers(store *storage.Storage, processor *pipeline.Processor, logger *logrus.Logger) *Handlers {
	return &Handlers{
		store:     store,
		processor: processor,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow all origins for development
				logger.Debugf("WebSocket origin check: %s", r.Header.Get("Origin"))
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Routes registers the API endpoints on the /api/v1 subrouter
func (h *Handlers) Routes(api *mux.Router) {
	api.HandleFunc("/scan", h.Scan).Methods("POST")
	api.HandleFunc("/scan/{kind}", h.ScanKind).Methods("POST")
	api.HandleFunc("/session/reset", h.ResetSession).Methods("POST")

	api.HandleFunc("/findings/stats", h.GetFindingStats).Methods("GET")
	api.HandleFunc("/stream/findings", h.StreamFindings).Methods("GET")
	api.HandleFunc("/findings", h.GetFindings).Methods("GET")
	api.HandleFunc("/findings/{id}", h.GetFinding).Methods("GET")

	api.HandleFunc("/rules", h.GetRules).Methods("GET")
}

// RulesFromCatalog lists every loaded rule of the enabled categories
func RulesFromCatalog(catalog *rules.Catalog) []storage.Rule {
	var out []storage.Rule
	for _, category := range catalog.Enabled() {
		categoryRules, err := catalog.Category(category)
		if err != nil {
			continue
		}
		for _, meta := range categoryRules.Metas() {
			out = append(out, storage.Rule{
				ID:          fmt.Sprintf("%s.%s", category, meta.Name),
				Name:        meta.Name,
				Category:    string(category),
				Enabled:     true,
				Severity:    string(meta.Severity),
				Action:      string(meta.Action),
				Description: meta.Description,
			})
		}
	}
	return out
}

// Scan handlers
func (h *Handlers) Scan(w http.ResponseWriter, r *http.Request) {
	var batches []pipeline.Batch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&batches); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.process(w, r, batches...)
}

func (h *Handlers) ScanKind(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(mux.Vars(r)["kind"])
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown record kind")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.process(w, r, pipeline.Batch{
		Kind:    kind,
		Source:  r.URL.Query().Get("source"),
		Records: json.RawMessage(body),
	})
}

func (h *Handlers) process(w http.ResponseWriter, r *http.Request, batches ...pipeline.Batch) {
	findings, err := h.processor.Process(r.Context(), batches...)
	if err != nil {
		h.logger.Warnf("[API] Scan rejected: %v", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if findings == nil {
		findings = []model.Finding{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": findings,
		"total": len(findings),
	})
}

func (h *Handlers) ResetSession(w http.ResponseWriter, r *http.Request) {
	h.processor.Reset()
	h.logger.Info("[API] Session reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func parseKind(s string) (pipeline.Kind, bool) {
	switch s {
	case "text":
		return pipeline.KindText, true
	case "logs":
		return pipeline.KindLogs, true
	case "document":
		return pipeline.KindDocument, true
	case "transactions":
		return pipeline.KindTransactions, true
	case "telemetry":
		return pipeline.KindTelemetry, true
	case "api-calls", "api_calls":
		return pipeline.KindAPICalls, true
	}
	return "", false
}

// Findings handlers
func (h *Handlers) GetFindings(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	findings := h.store.GetFindings(limit, filter)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": findings,
		"total": len(findings),
	})
}

func (h *Handlers) GetFinding(w http.ResponseWriter, r *http.Request) {
	finding := h.store.GetFindingByID(mux.Vars(r)["id"])
	if finding == nil {
		writeError(w, http.StatusNotFound, "Finding not found")
		return
	}

	writeJSON(w, http.StatusOK, finding)
}

func (h *Handlers) GetFindingStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.GetFindingStats())
}

func (h *Handlers) StreamFindings(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sub := &storage.FindingSubscriber{
		ID:      uuid.NewString(),
		Channel: make(chan storage.Finding, 100),
		Filter:  filter,
	}

	h.store.SubscribeFindings(sub)
	defer h.store.UnsubscribeFindings(sub)

	// Read messages (for pong and close)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Send ping to keep connection alive
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case finding, ok := <-sub.Channel:
			if !ok {
				return
			}
			if err := conn.WriteJSON(finding); err != nil {
				h.logger.Errorf("WebSocket write error: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				h.logger.Debugf("Ping failed: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}

func filterFromQuery(r *http.Request) (storage.FindingFilter, error) {
	q := r.URL.Query()
	filter := storage.FindingFilter{
		Category: q.Get("category"),
		Subtype:  q.Get("subtype"),
		Source:   q.Get("source"),
		Search:   q.Get("search"),
	}
	if s := q.Get("severity"); s != "" {
		sev, err := model.ParseSeverity(s)
		if err != nil {
			return filter, err
		}
		filter.MinSeverity = sev
	}
	return filter, nil
}

// Rules handlers
func (h *Handlers) GetRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.GetRules())
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
