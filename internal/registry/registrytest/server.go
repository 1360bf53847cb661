// Package registrytest provides an in-process fake of the model serving
// platform's registry API for tests.
package registrytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/gorilla/mux"

	"github.com/spachava753/deployeval/internal/models"
)

// Operation names used for call counting and failure injection.
const (
	OpList     = "list"
	OpRegister = "register"
	OpDeploy   = "deploy"
	OpDrop     = "drop"
)

// StatusDeploying is what the fake reports while a deployment is starting.
const StatusDeploying models.DeployStatus = "DEPLOYING"

// NeverReady makes deployments stay in DEPLOYING forever.
const NeverReady = -1

type wireStatus struct {
	Status models.DeployStatus `json:"status"`
}

type wireDeploy struct {
	Status wireStatus `json:"status"`
	Path   string     `json:"path,omitempty"`
	URL    string     `json:"url,omitempty"`
	Token  string     `json:"token,omitempty"`
}

type wireRecord struct {
	ID             string      `json:"id"`
	Name           string      `json:"name,omitempty"`
	CheckpointPath string      `json:"checkpoint_path"`
	Deploy         *wireDeploy `json:"deploy,omitempty"`
}

// Server is a fake registry. The zero value is not usable; call NewServer.
type Server struct {
	*httptest.Server

	token string

	mu sync.Mutex
	// ReadyAfter is the number of listings that still report DEPLOYING
	// after a deploy request. NeverReady keeps the model pending.
	readyAfter int
	records    []*wireRecord
	pending    map[string]int
	failures   map[string]int
	calls      map[string]int
	nextID     int
}

// NewServer starts a fake registry that requires the given bearer token.
func NewServer(token string) *Server {
	s := &Server{
		token:    token,
		pending:  make(map[string]int),
		failures: make(map[string]int),
		calls:    make(map[string]int),
		nextID:   1,
	}

	r := mux.NewRouter()
	r.Use(s.authenticate)
	r.HandleFunc("/models", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/models", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/models/{id}/deploys", s.handleDeploy).Methods(http.MethodPost)
	r.HandleFunc("/models/{id}/deploys", s.handleDrop).Methods(http.MethodDelete)

	s.Server = httptest.NewServer(r)
	return s
}

// BaseURL is the registry base URL to hand to a client.
func (s *Server) BaseURL() string {
	return s.URL + "/models"
}

// SetReadyAfter sets how many listings report DEPLOYING after a deploy.
func (s *Server) SetReadyAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyAfter = n
}

// Fail makes every call of the given operation answer with status.
func (s *Server) Fail(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = status
}

// AddModel seeds a model. A status of "" means the model was never deployed.
func (s *Server) AddModel(id, checkpointPath string, status models.DeployStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &wireRecord{ID: id, Name: "seeded", CheckpointPath: checkpointPath}
	if status != "" {
		rec.Deploy = &wireDeploy{Status: wireStatus{Status: status}}
		if status == models.StatusDeployed {
			s.fillDeployment(rec)
		}
	}
	s.records = append(s.records, rec)
}

// Calls returns how many times an operation was invoked.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Status returns the current deployment status of a checkpoint.
func (s *Server) Status(checkpointPath string) models.DeployStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.CheckpointPath == checkpointPath && rec.Deploy != nil {
			return rec.Deploy.Status.Status
		}
	}
	return ""
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.token {
			http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// record counts a call and reports an injected failure status, if any.
func (s *Server) record(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.failures[op]
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if status := s.record(OpList); status != 0 {
		http.Error(w, "injected failure", status)
		return
	}

	s.mu.Lock()
	for _, rec := range s.records {
		remaining, ok := s.pending[rec.ID]
		if !ok || remaining == NeverReady {
			continue
		}
		if remaining == 0 {
			rec.Deploy.Status.Status = models.StatusDeployed
			s.fillDeployment(rec)
			delete(s.pending, rec.ID)
			continue
		}
		s.pending[rec.ID] = remaining - 1
	}
	items := make([]wireRecord, 0, len(s.records))
	for _, rec := range s.records {
		items = append(items, *rec)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if status := s.record(OpRegister); status != 0 {
		http.Error(w, "injected failure", status)
		return
	}

	var req struct {
		Name           string `json:"name"`
		CheckpointPath string `json:"checkpoint_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CheckpointPath == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	id := "m-" + strconv.Itoa(s.nextID)
	s.nextID++
	s.records = append(s.records, &wireRecord{ID: id, Name: req.Name, CheckpointPath: req.CheckpointPath})
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	if status := s.record(OpDeploy); status != 0 {
		http.Error(w, "injected failure", status)
		return
	}

	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.find(id)
	if rec == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	rec.Deploy = &wireDeploy{Status: wireStatus{Status: StatusDeploying}}
	s.pending[id] = s.readyAfter
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	if status := s.record(OpDrop); status != 0 {
		http.Error(w, "injected failure", status)
		return
	}

	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.find(id)
	if rec == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	rec.Deploy = &wireDeploy{Status: wireStatus{Status: models.StatusDropped}}
	delete(s.pending, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) find(id string) *wireRecord {
	for _, rec := range s.records {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func (s *Server) fillDeployment(rec *wireRecord) {
	rec.Deploy.Path = "/serving/models/" + rec.ID
	rec.Deploy.URL = fmt.Sprintf("%s/serve/%s", s.urlLocked(), rec.ID)
	rec.Deploy.Token = "token-" + rec.ID
}

func (s *Server) urlLocked() string {
	if s.Server == nil {
		return "http://serving.invalid"
	}
	return s.URL
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
