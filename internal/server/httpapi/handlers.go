package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/shopkeeper/internal/common"
	"github.com/dmitrijs2005/shopkeeper/internal/server/models"
	"github.com/dmitrijs2005/shopkeeper/internal/server/services"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

type dataResponse struct {
	Data any `json:"data"`
}

type ackResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Data    any    `json:"data,omitempty"`
	Purged  *int   `json:"purged,omitempty"`
}

type saveRequest struct {
	Data json.RawMessage `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// fail maps a service error to a status code. Unexpected errors are logged
// and reported without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		s.logger.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	token, userID, err := s.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, UserID: userID})
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	items, err := s.data.List(r.Context(), userIDFrom(r.Context()), r.PathValue("store"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: items})
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	item, err := s.data.Get(r.Context(), userIDFrom(r.Context()), r.PathValue("store"), r.PathValue("key"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: item})
}

func (s *Server) saveEntity(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if !decode(w, r, &req) {
		return
	}

	id, err := s.data.Save(r.Context(), userIDFrom(r.Context()), r.PathValue("store"), r.PathValue("key"), req.Data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true, ID: id})
}

func (s *Server) removeEntity(w http.ResponseWriter, r *http.Request) {
	if err := s.data.Remove(r.Context(), userIDFrom(r.Context()), r.PathValue("store"), r.PathValue("key")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true})
}

func (s *Server) listTrash(w http.ResponseWriter, r *http.Request) {
	items, err := s.trash.List(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: items})
}

func (s *Server) softDelete(w http.ResponseWriter, r *http.Request) {
	entry, err := s.trash.SoftDelete(r.Context(), userIDFrom(r.Context()), r.PathValue("kind"), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true, Data: entry})
}

func (s *Server) restore(w http.ResponseWriter, r *http.Request) {
	if err := s.trash.Restore(r.Context(), userIDFrom(r.Context()), r.PathValue("kind"), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true})
}

func (s *Server) permanentDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.trash.PermanentDelete(r.Context(), userIDFrom(r.Context()), r.PathValue("kind"), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true})
}

func (s *Server) cleanupTrash(w http.ResponseWriter, r *http.Request) {
	n, err := s.trash.Cleanup(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true, Purged: &n})
}
