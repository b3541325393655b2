package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"
)

type healthResponse struct {
	Status   string `json:"status"`
	Database bool   `json:"database"`
	Cache    *bool  `json:"cache,omitempty"`
}

type tallyResponse struct {
	Student     string    `json:"student"`
	Emoji       string    `json:"emoji"`
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

type talliesResponse struct {
	Teacher string          `json:"teacher"`
	Tallies []tallyResponse `json:"tallies"`
}

func (a *App) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("json encode", "error", err)
	}
}

// healthz reports degraded when the database cannot be reached, even after
// the store's retries. The cache is informational only.
func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Database: a.store.Ping(r.Context()),
	}

	if a.cache != nil {
		cacheUp := a.cache.Ping(r.Context()) == nil
		resp.Cache = &cacheUp
	}

	status := http.StatusOK
	if !resp.Database {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	a.writeJson(w, status, resp)
}

func (a *App) debugState(w http.ResponseWriter, r *http.Request) {
	a.writeJson(w, http.StatusOK, a.state.Snapshot())
}

func (a *App) debugTallies(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("teacher")
	if identity == "" {
		errResp := NewBadRequestError("missing teacher parameter")
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	teacher := a.store.GetAccountByIdentity(r.Context(), identity)
	if teacher == nil || !teacher.IsTeacher {
		errResp := NewNotFoundError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := talliesResponse{
		Teacher: teacher.Identity,
		Tallies: make([]tallyResponse, 0),
	}
	for _, t := range a.store.ListTalliesByTeacher(r.Context(), teacher.Id) {
		resp.Tallies = append(resp.Tallies, tallyResponse{
			Student:     t.StudentIdentity,
			Emoji:       t.Emoji,
			Count:       t.Count,
			LastUpdated: t.LastUpdated,
		})
	}

	a.writeJson(w, http.StatusOK, resp)
}

func (a *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return slices.Contains(a.allowedOrigins, origin)
}

func (a *App) serveEvents(w http.ResponseWriter, r *http.Request) {
	subject, _ := Subject(r.Context())

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written an error response
		a.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newFeedClient(subject, conn, a.feed)
	if !a.feed.add(c) {
		conn.Close()
		return
	}

	go c.write()
	go c.read()
}
