package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"emerald.finance/internal/audit"
)

type activityResponse struct {
	Events []*audit.Event `json:"events"`
	Total  int64          `json:"total"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

func (a *API) handleMyActivity(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	filter, page, err := parseActivityQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, total, err := a.audit.ListForUser(r.Context(), a.events, user.ID, filter, page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeActivity(w, events, total, page)
}

// handleAllActivity is the admin view across every actor.
func (a *API) handleAllActivity(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if !user.IsAdmin {
		respondError(w, http.StatusForbidden, "admin access required")
		return
	}
	filter, page, err := parseActivityQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, total, err := a.audit.ListAll(r.Context(), a.events, filter, page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeActivity(w, events, total, page)
}

func writeActivity(w http.ResponseWriter, events []*audit.Event, total int64, page audit.Page) {
	if events == nil {
		events = []*audit.Event{}
	}
	page = page.Clamp()
	writeJSON(w, http.StatusOK, activityResponse{
		Events: events,
		Total:  total,
		Offset: page.Offset,
		Limit:  page.Limit,
	})
}

func parseActivityQuery(r *http.Request) (audit.Filter, audit.Page, error) {
	q := r.URL.Query()
	f := audit.Filter{
		Action:     audit.Action(q.Get("action")),
		EntityType: q.Get("entity_type"),
		Status:     audit.Status(q.Get("status")),
	}
	var p audit.Page
	var err error
	if v := q.Get("from"); v != "" {
		if f.From, err = time.Parse(time.RFC3339, v); err != nil {
			return f, p, errBadQuery("from")
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = time.Parse(time.RFC3339, v); err != nil {
			return f, p, errBadQuery("to")
		}
	}
	if v := q.Get("offset"); v != "" {
		if p.Offset, err = strconv.Atoi(v); err != nil || p.Offset < 0 {
			return f, p, errBadQuery("offset")
		}
	}
	if v := q.Get("limit"); v != "" {
		if p.Limit, err = strconv.Atoi(v); err != nil || p.Limit < 0 {
			return f, p, errBadQuery("limit")
		}
	}
	return f, p, nil
}

type errBadQuery string

func (e errBadQuery) Error() string { return "invalid query parameter: " + string(e) }
