package servers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dbmirror/dbmirror/src/history"
)

type pauseState struct {
	Paused bool `json:"paused"`
}

func (s *Server) getProgress(writer http.ResponseWriter, r *http.Request) {
	writeJSON(writer, s.deps.Progress.Snapshot())
}

func (s *Server) getPause(writer http.ResponseWriter, r *http.Request) {
	writeJSON(writer, pauseState{Paused: s.deps.Pause.IsPaused()})
}

func (s *Server) postPause(writer http.ResponseWriter, r *http.Request) {
	if err := s.deps.Pause.Pause(); err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	writeJSON(writer, pauseState{Paused: true})
}

func (s *Server) deletePause(writer http.ResponseWriter, r *http.Request) {
	if err := s.deps.Pause.Resume(); err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	writeJSON(writer, pauseState{Paused: false})
}

func (s *Server) getRuns(writer http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(writer, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}
	runs, err := s.deps.History.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []*history.Run{}
	}
	writeJSON(writer, runs)
}

type runDetail struct {
	*history.Run
	Jobs []*history.JobRecord `json:"jobs"`
}

func (s *Server) getRun(writer http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := s.deps.History.GetRun(r.Context(), id)
	if errors.Is(err, history.ErrRunNotFound) {
		writeError(writer, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	jobs, err := s.deps.History.ListJobs(r.Context(), id)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = []*history.JobRecord{}
	}
	writeJSON(writer, runDetail{Run: run, Jobs: jobs})
}
