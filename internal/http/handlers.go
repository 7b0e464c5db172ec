package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/roadside-dispatch/internal/dispatcher"
	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/identity"
	"github.com/example/roadside-dispatch/internal/ingest"
	"github.com/example/roadside-dispatch/internal/lifecycle"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/notify"
	"github.com/example/roadside-dispatch/internal/observability"
	"github.com/example/roadside-dispatch/internal/query"
	"github.com/example/roadside-dispatch/internal/storage"
)

type Server struct {
	Coordinator *dispatcher.Coordinator
	Views       query.Views
	Geo         geo.Index
	Kafka       *ingest.KafkaProducer // optional
	WSReg       *notify.WSRegistry
	Verifier    identity.Verifier

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, verifier identity.Verifier, coord *dispatcher.Coordinator, views query.Views, gidx geo.Index, kafka *ingest.KafkaProducer, wsreg *notify.WSRegistry) *Server {
	s := &Server{
		Coordinator: coord,
		Views:       views,
		Geo:         gidx,
		Kafka:       kafka,
		WSReg:       wsreg,
		Verifier:    verifier,
		logger:      logger,
		mux:         mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/requests", s.requireRole(models.RoleCustomer, s.handleSubmit)).Methods("POST")
	api.HandleFunc("/requests/nearby", s.requireRole(models.RoleProvider, s.handleNearby)).Methods("GET")
	api.HandleFunc("/requests/my", s.handleMine).Methods("GET")
	api.HandleFunc("/requests/{id}/accept", s.requireRole(models.RoleProvider, s.handleAccept)).Methods("PUT")
	api.HandleFunc("/requests/{id}/complete", s.requireRole(models.RoleProvider, s.handleComplete)).Methods("PUT")
	api.HandleFunc("/requests/{id}/cancel", s.handleCancel).Methods("PUT")

	internal := s.mux.PathPrefix("/internal").Subrouter()
	internal.Use(s.authMiddleware)
	internal.HandleFunc("/provider/locations", s.requireRole(models.RoleProvider, s.handleProviderBeacon)).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/providers", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type submitPayload struct {
	Location    models.Location    `json:"location"`
	VehicleInfo models.VehicleInfo `json:"vehicle_info"`
	Description string             `json:"description"`
	ServiceType string             `json:"service_type"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	var p submitPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.Coordinator.Submit(r.Context(), actor.ID, p.Location, p.VehicleInfo, p.Description, p.ServiceType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	candidates, err := s.Coordinator.ListCandidates(r.Context(), actor.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, candidates)
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	var (
		out []models.ServiceRequest
		err error
	)
	switch actor.Role {
	case models.RoleCustomer:
		out, err = s.Views.RequestsForCustomer(r.Context(), actor.ID)
	case models.RoleProvider:
		out, err = s.Views.JobsForProvider(r.Context(), actor.ID)
	default:
		http.Error(w, "unknown role", http.StatusForbidden)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	req, err := s.Coordinator.Accept(r.Context(), id, actor.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	req, err := s.Coordinator.Complete(r.Context(), id, actor.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	req, err := s.Coordinator.Cancel(r.Context(), id, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

type beaconPayload struct {
	Loc          models.Coord `json:"loc"`
	Available    bool         `json:"available"`
	Capabilities []string     `json:"capabilities"`
}

// handleProviderBeacon ingests a provider's own location/availability pulse.
// The provider id always comes from the verified token, never the body.
func (s *Server) handleProviderBeacon(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	var b beaconPayload
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p := models.Provider{ID: actor.ID, Loc: b.Loc, Available: b.Available, Capabilities: b.Capabilities}
	if s.Kafka != nil {
		if err := s.Kafka.PublishBeacon(p); err != nil {
			s.logger.Warn("beacon publish failed", "provider", p.ID, "error", err)
		}
	}
	if _, known := s.Geo.Get(p.ID); !known {
		observability.ProvidersTracked.Inc()
	}
	s.Geo.Upsert(p)
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

// handleWS attaches a provider's live session. Browsers cannot set headers
// on websocket dials, so the token rides in a query parameter here.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	actor, err := s.Verifier.Verify(r.Context(), token)
	if err != nil || actor.Role != models.RoleProvider {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(actor.ID, conn)
	go func() {
		defer s.WSReg.Remove(actor.ID)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lifecycle.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, dispatcher.ErrAlreadyClaimed),
		errors.Is(err, dispatcher.ErrConflict),
		errors.Is(err, storage.ErrAlreadyExists):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
