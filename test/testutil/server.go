// Package testutil provides a fake BrewVault API server for integration
// tests: an in-memory authoritative store behind the real HTTP surface.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ServerRecord is one record as the authoritative store keeps it.
type ServerRecord struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	Data       json.RawMessage `json:"data"`
	ModifiedAt time.Time       `json:"modified_at"`
	Deleted    bool            `json:"deleted,omitempty"`
}

// TestServer is a fake BrewVault API backed by an in-memory store.
type TestServer struct {
	*httptest.Server

	mu        sync.RWMutex
	nextID    int
	records   map[string]*ServerRecord
	tokens    map[string]string // token -> email
	static    map[string]staticSet
	conflicts map[string]bool

	// Accounts maps email -> password for login.
	Accounts map[string]string
}

type staticSet struct {
	version string
	records []json.RawMessage
}

// NewTestServer creates a fake API server with one account.
func NewTestServer() *TestServer {
	ts := &TestServer{
		nextID:    1,
		records:   make(map[string]*ServerRecord),
		tokens:    make(map[string]string),
		static:    make(map[string]staticSet),
		conflicts: make(map[string]bool),
		Accounts:  map[string]string{"brewer@example.com": "secret"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", ts.handleLogin)
	mux.HandleFunc("/api/v1/changes", ts.handleChanges)
	mux.HandleFunc("/api/v1/recipes", ts.handleCollection("recipe"))
	mux.HandleFunc("/api/v1/recipes/", ts.handleEntity("recipe"))
	mux.HandleFunc("/api/v1/brew_sessions", ts.handleCollection("brew_session"))
	mux.HandleFunc("/api/v1/brew_sessions/", ts.handleBrewSessionSubtree)
	mux.HandleFunc("/api/v1/static/", ts.handleStatic)

	ts.Server = httptest.NewServer(mux)
	return ts
}

// Seed inserts a record server-side and returns its ID.
func (ts *TestServer) Seed(entityType string, data json.RawMessage) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	id := ts.assignID()
	ts.records[id] = &ServerRecord{
		ID:         id,
		EntityType: entityType,
		Data:       data,
		ModifiedAt: time.Now().UTC(),
	}
	return id
}

// SetStatic installs a static dataset version.
func (ts *TestServer) SetStatic(dataType, version string, records []json.RawMessage) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.static[dataType] = staticSet{version: version, records: records}
}

// ForceConflict makes the next write to id fail with 409 CONFLICT, the
// response the real API gives when another device updated the record first.
func (ts *TestServer) ForceConflict(id string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.conflicts[id] = true
}

// Record returns the server's copy of a record.
func (ts *TestServer) Record(id string) (*ServerRecord, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	rec, ok := ts.records[id]
	return rec, ok
}

// RecordCount counts live records.
func (ts *TestServer) RecordCount() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	n := 0
	for _, rec := range ts.records {
		if !rec.Deleted {
			n++
		}
	}
	return n
}

func (ts *TestServer) assignID() string {
	id := "srv-" + strconv.Itoa(ts.nextID)
	ts.nextID++
	return id
}

func (ts *TestServer) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	_, ok := ts.tokens[strings.TrimPrefix(auth, "Bearer ")]
	return ok
}

func (ts *TestServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.Accounts[req.Email] != req.Password || req.Password == "" {
		writeError(w, http.StatusUnauthorized, "bad credentials")
		return
	}
	token := fmt.Sprintf("tok-%s-%d", req.Email, time.Now().UnixNano())
	ts.tokens[token] = req.Email
	writeJSON(w, map[string]string{"token": token})
}

func (ts *TestServer) handleChanges(w http.ResponseWriter, r *http.Request) {
	if !ts.authorized(r) {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, _ = time.Parse(time.RFC3339, raw)
	}

	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := struct {
		Records    []*ServerRecord `json:"records"`
		ServerTime time.Time       `json:"server_time"`
	}{
		Records:    []*ServerRecord{},
		ServerTime: time.Now().UTC(),
	}
	for _, rec := range ts.records {
		if rec.ModifiedAt.After(since) {
			out.Records = append(out.Records, rec)
		}
	}
	writeJSON(w, out)
}

func (ts *TestServer) handleCollection(entityType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ts.authorized(r) {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var data json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			writeError(w, http.StatusBadRequest, "malformed payload")
			return
		}

		ts.mu.Lock()
		defer ts.mu.Unlock()
		id := ts.assignID()
		now := time.Now().UTC()
		ts.records[id] = &ServerRecord{
			ID:         id,
			EntityType: entityType,
			Data:       data,
			ModifiedAt: now,
		}
		writeJSON(w, map[string]interface{}{"id": id, "modified_at": now})
	}
}

func (ts *TestServer) handleEntity(entityType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ts.authorized(r) {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/v1/"+entityType+"s/")
		if entityType == "brew_session" {
			id = strings.TrimPrefix(r.URL.Path, "/api/v1/brew_sessions/")
		}
		ts.mutateEntity(w, r, id)
	}
}

// handleBrewSessionSubtree serves both session entities and their embedded
// fermentation entries and dry-hop additions.
func (ts *TestServer) handleBrewSessionSubtree(w http.ResponseWriter, r *http.Request) {
	if !ts.authorized(r) {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/brew_sessions/")
	parts := strings.Split(rest, "/")

	switch len(parts) {
	case 1:
		ts.mutateEntity(w, r, parts[0])
	case 2, 3:
		// Embedded entity create/update/delete: acknowledge against the
		// parent session, which must exist.
		ts.mu.Lock()
		defer ts.mu.Unlock()
		parent, ok := ts.records[parts[0]]
		if !ok || parent.Deleted {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		now := time.Now().UTC()
		parent.ModifiedAt = now
		writeJSON(w, map[string]interface{}{"id": parent.ID, "modified_at": now})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (ts *TestServer) mutateEntity(w http.ResponseWriter, r *http.Request, id string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	rec, ok := ts.records[id]
	if !ok {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}

	now := time.Now().UTC()
	switch r.Method {
	case http.MethodPut:
		if ts.conflicts[id] {
			delete(ts.conflicts, id)
			writeError(w, http.StatusConflict, "record was updated by another device")
			return
		}
		var data json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			writeError(w, http.StatusBadRequest, "malformed payload")
			return
		}
		rec.Data = data
		rec.ModifiedAt = now
		writeJSON(w, map[string]interface{}{"id": rec.ID, "modified_at": now})

	case http.MethodDelete:
		rec.Deleted = true
		rec.ModifiedAt = now
		writeJSON(w, map[string]interface{}{})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (ts *TestServer) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !ts.authorized(r) {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/static/")
	parts := strings.Split(rest, "/")
	dataType := parts[0]

	ts.mu.RLock()
	set, ok := ts.static[dataType]
	ts.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown dataset")
		return
	}

	if len(parts) == 2 && parts[1] == "version" {
		writeJSON(w, map[string]interface{}{
			"version":       set.version,
			"last_modified": time.Now().UTC(),
			"total_records": len(set.records),
		})
		return
	}

	writeJSON(w, map[string]interface{}{
		"version":       set.version,
		"last_modified": time.Now().UTC(),
		"total_records": len(set.records),
		"records":       set.records,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":        http.StatusText(status),
		"message":     message,
		"status_code": status,
	})
}
