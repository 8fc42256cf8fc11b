package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/palaystore/internal/core"
)

// handleHealth reports liveness and the data file in use.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{
		"status":    "ok",
		"data_file": s.store.Path(),
	})
}

// handleGetData returns the whole dataset with every known section present.
func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	ds, err := s.store.Load(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, ds)
}

// handleReplaceData overwrites the data file with the posted dataset and
// returns what was written.
func (s *Server) handleReplaceData(w http.ResponseWriter, r *http.Request) {
	var ds core.Dataset
	if err := decodeBody(r, &ds); err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	saved, err := s.store.Replace(ctx, &ds)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, saved)
}

// handleGetList returns one section: an array for lists, an object for maps.
func (s *Server) handleGetList(w http.ResponseWriter, r *http.Request) {
	sec, err := s.store.Section(r.Context(), chi.URLParam(r, "listName"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, sec)
}

// handleMutate applies add, update or delete to one section and returns the
// section as stored afterwards.
func (s *Server) handleMutate(w http.ResponseWriter, r *http.Request) {
	listName := chi.URLParam(r, "listName")
	action, err := core.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if _, ok := s.store.Registry().Lookup(listName); !ok {
		s.respondError(w, r, core.ErrUnknownList)
		return
	}

	var item core.Record
	if err := decodeBody(r, &item); err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	sec, err := s.store.Mutate(ctx, listName, action, item)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, sec)
}

// handleSchema describes the known sections, their columns and aliases.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"sections": s.store.Registry().Sections(),
	})
}
