// Package httpapi serves the data and trash API that clients sync against.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/logging"
	"github.com/dmitrijs2005/shopkeeper/internal/server/models"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

type UserService interface {
	Login(ctx context.Context, userName, password string) (token string, userID string, err error)
	Authenticate(token string) (string, error)
}

type DataService interface {
	List(ctx context.Context, userID, store string) ([]json.RawMessage, error)
	Get(ctx context.Context, userID, store, key string) (json.RawMessage, error)
	Save(ctx context.Context, userID, store, key string, data json.RawMessage) (string, error)
	Remove(ctx context.Context, userID, store, key string) error
}

type TrashService interface {
	SoftDelete(ctx context.Context, userID, kind, id string) (models.TrashEntry, error)
	Restore(ctx context.Context, userID, kind, id string) error
	PermanentDelete(ctx context.Context, userID, kind, id string) error
	List(ctx context.Context, userID string) ([]models.TrashEntry, error)
	Cleanup(ctx context.Context, userID string) (int, error)
}

type Server struct {
	address string
	users   UserService
	data    DataService
	trash   TrashService
	logger  logging.Logger
}

func NewServer(address string, l logging.Logger, us UserService, ds DataService, ts TrashService) *Server {
	return &Server{
		address: address,
		users:   us,
		data:    ds,
		trash:   ts,
		logger:  l.With("module", "http_server"),
	}
}

// Handler returns the routed API wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", s.login)

	mux.Handle("GET /data/{user}/{store}", s.authorized(s.listEntities))
	mux.Handle("GET /data/{user}/{store}/{key}", s.authorized(s.getEntity))
	mux.Handle("POST /data/{user}/{store}/{key}", s.authorized(s.saveEntity))
	mux.Handle("DELETE /data/{user}/{store}/{key}", s.authorized(s.removeEntity))

	mux.Handle("GET /trash/{user}", s.authorized(s.listTrash))
	mux.Handle("POST /trash/{user}/cleanup", s.authorized(s.cleanupTrash))
	mux.Handle("POST /trash/{user}/{kind}/{id}", s.authorized(s.softDelete))
	mux.Handle("POST /trash/{user}/{kind}/{id}/restore", s.authorized(s.restore))
	mux.Handle("DELETE /trash/{user}/{kind}/{id}", s.authorized(s.permanentDelete))

	return s.logRequests(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
