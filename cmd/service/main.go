// cmd/service is a sample Resource-Service: an address-book-like CRUD API
// gated entirely by internal/kernel's independent re-verification and
// ownership/tenant-isolation authorization. It exists to demonstrate C10,
// not to implement any of the marketplace's actual business domains.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/marketplace/trust-platform/internal/config"
	"github.com/marketplace/trust-platform/internal/edge"
	"github.com/marketplace/trust-platform/internal/kernel"
	"github.com/marketplace/trust-platform/internal/revocation"
	applogger "github.com/marketplace/trust-platform/pkg/logger"
)

// contact is the sample resource. Every contact belongs to exactly one
// tenant and one owning user.
type contact struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	OwnerID  uuid.UUID `json:"owner_id"`
	Name     string    `json:"name"`
	Phone    string    `json:"phone"`
}

type contactStore struct {
	mu       sync.RWMutex
	contacts map[uuid.UUID]contact
}

func newContactStore() *contactStore {
	return &contactStore{contacts: make(map[uuid.UUID]contact)}
}

func (s *contactStore) create(c contact) contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = uuid.New()
	s.contacts[c.ID] = c
	return c
}

func (s *contactStore) get(id uuid.UUID) (contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	return c, ok
}

func (s *contactStore) delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts, id)
}

type contactHandler struct {
	store *contactStore
}

type createContactRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (h *contactHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := kernel.PrincipalFromContext(r.Context())

	var req createContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c := h.store.create(contact{
		TenantID: principal.TenantID,
		OwnerID:  principal.UserID,
		Name:     req.Name,
		Phone:    req.Phone,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(c)
}

func (h *contactHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal := kernel.PrincipalFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	c, ok := h.store.get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := kernel.Authorize(principal, kernel.ResourceRef{TenantID: c.TenantID, OwnerID: c.OwnerID}); err != nil {
		writeAuthorizeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c)
}

func (h *contactHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal := kernel.PrincipalFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	c, ok := h.store.get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := kernel.Authorize(principal, kernel.ResourceRef{TenantID: c.TenantID, OwnerID: c.OwnerID}); err != nil {
		writeAuthorizeError(w, err)
		return
	}
	h.store.delete(id)
	w.WriteHeader(http.StatusNoContent)
}

// writeAuthorizeError maps kernel.Authorize's decision to the response
// contract of spec.md §4.10: a foreign-tenant resource is indistinguishable
// from one that doesn't exist.
func writeAuthorizeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, kernel.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, kernel.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := applogger.Setup(cfg.Environment)
	log.Info("service_startup", "env", cfg.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jwksCache := edge.NewJWKSCache(cfg.JWKSURL, cfg.JWKSRefreshInterval, cfg.JWKSMaxStale)
	jwksCache.Start(ctx)

	redisClient, err := revocation.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Error("redis_connect_failed", "error", err)
		os.Exit(1)
	}
	revocationIndex := revocation.NewRedisIndex(redisClient, revocation.FailMode(cfg.RevocationFailMode), cfg.RevocationTimeout, log)

	trustKernel := kernel.New(jwksCache, revocationIndex, log)
	handler := &contactHandler{store: newContactStore()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Group(func(protected chi.Router) {
		protected.Use(trustKernel.Authenticate)
		protected.Post("/contacts", handler.Create)
		protected.Get("/contacts/{id}", handler.Get)
		protected.Delete("/contacts/{id}", handler.Delete)
	})

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "8081"
	}
	srv := &http.Server{Addr: ":" + port, Handler: r, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("service_listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("service_startup_failed", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
			_ = srv.Close()
		}
		log.Info("service_shutdown_complete")
	}
}
