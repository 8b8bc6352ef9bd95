package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/jkaflik/zoneworker/internal/entry"
	"github.com/jkaflik/zoneworker/internal/flow"
	"github.com/jkaflik/zoneworker/internal/worker"
)

func decodeInput(w http.ResponseWriter, r *http.Request) (flow.Input, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "failed to read body")
		return nil, false
	}

	input := flow.Input{}
	if len(body) == 0 {
		return input, true
	}
	if err := json.Unmarshal(body, &input); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "body must be a JSON object")
		return nil, false
	}
	if input == nil {
		input = flow.Input{}
	}
	return input, true
}

func writeResult(w http.ResponseWriter, res *flow.Result) {
	status := http.StatusOK
	if res.Type == flow.ResultTypeCreateEntry {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) handleUserForm(w http.ResponseWriter, r *http.Request) {
	res, err := s.flow.UserStep(r.Context(), nil)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeResult(w, res)
}

func (s *Server) handleUserStep(w http.ResponseWriter, r *http.Request) {
	input, ok := decodeInput(w, r)
	if !ok {
		return
	}

	res, err := s.flow.UserStep(r.Context(), input)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeResult(w, res)
}

func (s *Server) handleOptionsForm(w http.ResponseWriter, r *http.Request) {
	res, err := s.flow.OptionsStep(r.Context(), chi.URLParam(r, "id"), nil)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeResult(w, res)
}

func (s *Server) handleOptionsStep(w http.ResponseWriter, r *http.Request) {
	input, ok := decodeInput(w, r)
	if !ok {
		return
	}

	res, err := s.flow.OptionsStep(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	// options never create a new entry
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.entries.List(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if entries == nil {
		entries = []*entry.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.entries.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.flow.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type area struct {
	AreaID string `json:"area_id"`
	Name   string `json:"name"`
}

func (s *Server) handleListAreas(w http.ResponseWriter, _ *http.Request) {
	areas := s.areas.Areas()
	out := make([]area, 0, len(areas))
	for id, name := range areas {
		out = append(out, area{AreaID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AreaID < out[j].AreaID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListSwitches(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.switches.Switches())
}

func (s *Server) handleGetSwitch(w http.ResponseWriter, r *http.Request) {
	sw, err := s.switches.Switch(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sw)
}

func (s *Server) handleTurnOn(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, r, s.switches.TurnOn)
}

func (s *Server) handleTurnOff(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, r, s.switches.TurnOff)
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if err := fn(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}

	sw, err := s.switches.Switch(id)
	if errors.Is(err, worker.ErrUnknownSwitch) {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sw)
}
