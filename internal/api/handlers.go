package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"firestige.xyz/pandit/internal/flow"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Handlers serves flow and header lookups.
type Handlers struct {
	view TaskView
}

// NewHandlers creates the poll API handlers.
func NewHandlers(view TaskView) *Handlers {
	return &Handlers{view: view}
}

// RegisterRoutes registers the poll API routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)

	router.HandleFunc("/flows", h.handleListFlows).Methods(http.MethodGet)
	router.HandleFunc("/flows/next", h.handleNextFlow).Methods(http.MethodGet)
	router.HandleFunc("/flows/{addr}/{ack:[0-9]+}", h.handleGetFlow).Methods(http.MethodGet)
	router.HandleFunc("/flows/{addr}/{ack:[0-9]+}/headers", h.handleGetHeaders).Methods(http.MethodGet)
	router.HandleFunc("/flows/{addr}/{ack:[0-9]+}/headers/{name}", h.handleGetHeader).Methods(http.MethodGet)

	router.HandleFunc("/headers/next", h.handleNextHeader).Methods(http.MethodGet)
}

// FlowView is the JSON form of one tracked response.
type FlowView struct {
	Key           string    `json:"key"`
	StatusCode    uint16    `json:"status_code"`
	Version       string    `json:"version"`
	BodyOffset    uint32    `json:"body_offset"`
	ContentLength int64     `json:"content_length"`
	Seen          uint32    `json:"seen"`
	BodyReceived  int64     `json:"body_received"`
	Headers       int       `json:"headers"`
	Truncated     bool      `json:"truncated"`
	Complete      bool      `json:"complete"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// HeaderView is the JSON form of one stored header.
type HeaderView struct {
	Flow  string `json:"flow,omitempty"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

func newFlowView(k flow.Key, s flow.State) FlowView {
	return FlowView{
		Key:           k.String(),
		StatusCode:    s.StatusCode,
		Version:       strconv.Itoa(int(s.Major)) + "." + strconv.Itoa(int(s.Minor)),
		BodyOffset:    s.BodyOffset,
		ContentLength: s.ContentLength,
		Seen:          s.Seen,
		BodyReceived:  s.BodyReceived(),
		Headers:       s.Headers,
		Truncated:     s.Truncated,
		Complete:      s.Complete,
		FirstSeen:     s.FirstSeen,
		LastSeen:      s.LastSeen,
	}
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.view.GetStatus())
}

func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.view.Stats())
}

// handleListFlows pages through flows in key order; "next" is the after
// value for the following page.
func (h *Handlers) handleListFlows(w http.ResponseWriter, r *http.Request) {
	after, err := afterKey(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := pageSize(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	cache := h.view.Cache()
	flows := make([]FlowView, 0)
	next := ""
	for _, k := range cache.Keys() {
		if after != nil && k.Compare(*after) <= 0 {
			continue
		}
		if len(flows) == limit {
			next = flows[len(flows)-1].Key
			break
		}
		s, ok := cache.Lookup(k)
		if !ok {
			continue
		}
		flows = append(flows, newFlowView(k, s))
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"flows": flows,
		"count": len(flows),
		"next":  next,
	})
}

func (h *Handlers) handleNextFlow(w http.ResponseWriter, r *http.Request) {
	after, err := afterKey(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	cache := h.view.Cache()
	k, ok := cache.NextKey(after)
	if !ok {
		respondWithError(w, http.StatusNotFound, "no more flows")
		return
	}
	s, ok := cache.Lookup(k)
	if !ok {
		respondWithError(w, http.StatusNotFound, "flow expired")
		return
	}
	respondWithJSON(w, http.StatusOK, newFlowView(k, s))
}

func (h *Handlers) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	k, ok := pathKey(w, r)
	if !ok {
		return
	}
	s, found := h.view.Cache().Lookup(k)
	if !found {
		respondWithError(w, http.StatusNotFound, "flow not found")
		return
	}
	respondWithJSON(w, http.StatusOK, newFlowView(k, s))
}

func (h *Handlers) handleGetHeaders(w http.ResponseWriter, r *http.Request) {
	k, ok := pathKey(w, r)
	if !ok {
		return
	}
	entries := h.view.Store().Entries(k)
	if len(entries) == 0 {
		if _, found := h.view.Cache().Lookup(k); !found {
			respondWithError(w, http.StatusNotFound, "flow not found")
			return
		}
	}

	headers := make([]HeaderView, len(entries))
	for i, e := range entries {
		headers[i] = HeaderView{Name: e.Name, Value: string(e.Value)}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"flow":    k.String(),
		"headers": headers,
	})
}

func (h *Handlers) handleGetHeader(w http.ResponseWriter, r *http.Request) {
	k, ok := pathKey(w, r)
	if !ok {
		return
	}
	name := mux.Vars(r)["name"]
	v, found := h.view.Store().Get(k, name)
	if !found {
		respondWithError(w, http.StatusNotFound, "header not found")
		return
	}
	respondWithJSON(w, http.StatusOK, HeaderView{Flow: k.String(), Name: name, Value: string(v)})
}

// handleNextHeader walks the store one key at a time:
// after=<addr>/<ack>/<name>, or nothing for the first key.
func (h *Handlers) handleNextHeader(w http.ResponseWriter, r *http.Request) {
	var after *flow.StoreKey
	if raw := r.URL.Query().Get("after"); raw != "" {
		sk, err := parseStoreKey(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		after = &sk
	}

	store := h.view.Store()
	next, ok := store.NextKey(after)
	if !ok {
		respondWithError(w, http.StatusNotFound, "no more headers")
		return
	}
	v, _ := store.Get(next.Flow, next.Name)
	respondWithJSON(w, http.StatusOK, HeaderView{Flow: next.Flow.String(), Name: next.Name, Value: string(v)})
}

func parseStoreKey(s string) (flow.StoreKey, error) {
	i := strings.LastIndexByte(s, '/')
	if i <= 0 || i == len(s)-1 {
		return flow.StoreKey{}, errMalformedAfter
	}
	k, err := flow.ParseKey(s[:i])
	if err != nil {
		return flow.StoreKey{}, err
	}
	return flow.StoreKey{Flow: k, Name: s[i+1:]}, nil
}

func afterKey(r *http.Request) (*flow.Key, error) {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		return nil, nil
	}
	k, err := flow.ParseKey(raw)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func pageSize(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultPageSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errBadLimit
	}
	return min(n, maxPageSize), nil
}

func pathKey(w http.ResponseWriter, r *http.Request) (flow.Key, bool) {
	vars := mux.Vars(r)
	k, err := flow.ParseKey(vars["addr"] + "/" + vars["ack"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return flow.Key{}, false
	}
	return k, true
}

func respondWithError(w http.ResponseWriter, code int, msg string) {
	respondWithJSON(w, code, map[string]string{"error": msg})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
