package handlers

import (
	"net/http"

	"promptcraft/internal/domain/jsoncfg"
	"promptcraft/internal/session"
)

func (a *App) CreateSession(w http.ResponseWriter, r *http.Request) {
	o := a.Sessions.Create()
	a.json(w, http.StatusCreated, o.Snapshot())
}

func (a *App) ListSessions(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string][]session.Snapshot{"items": a.Sessions.List()})
}

func (a *App) GetSession(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, o.Snapshot())
}

func (a *App) DeleteSession(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	if err := a.Sessions.Close(o.ID()); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) Select(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	var req jsoncfg.SelectRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Index == nil {
		a.error(w, http.StatusBadRequest, "bad_request", "index is required")
		return
	}
	if err := o.Select(*req.Index); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, o.Snapshot())
}
