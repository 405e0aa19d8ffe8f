package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// Router builds the thin HTTP/WS listener mounting every Command API
// operation as a JSON endpoint (GET, POST or DELETE by operation) plus
// the Event Bus's three stream
// channels, the way teacher's bridgeState/legacyprovisioning split a
// small admin surface off its mux.Router.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/accounts", a.handleListAccounts).Methods(http.MethodGet)
	r.HandleFunc("/accounts", a.handleCreateAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}", a.handleDeleteAccount).Methods(http.MethodDelete)
	r.HandleFunc("/accounts/{id}/connect", a.handleConnectAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/submit_code", a.handleSubmitCode).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/submit_password", a.handleSubmitPassword).Methods(http.MethodPost)

	r.HandleFunc("/dialogs/available/{account_id}", a.handleListAvailableDialogs).Methods(http.MethodGet)
	r.HandleFunc("/dialogs/managed/{account_id}", a.handleListManagedDialogs).Methods(http.MethodGet)
	r.HandleFunc("/dialogs/{account_id}", a.handleAddDialogs).Methods(http.MethodPost)
	r.HandleFunc("/dialogs/{id}/assign/{account_id}", a.handleAssignDialog).Methods(http.MethodPost)
	r.HandleFunc("/dialogs/{id}/toggle_monitoring", a.handleToggleMonitoring).Methods(http.MethodPost)
	r.HandleFunc("/dialogs/{id}/options", a.handleSetDialogOptions).Methods(http.MethodPost)
	r.HandleFunc("/dialogs/{id}/backfill", a.handleStartBackfill).Methods(http.MethodPost)
	r.HandleFunc("/dialogs/{id}/backfill", a.handleStopBackfill).Methods(http.MethodDelete)

	r.HandleFunc("/invites", a.handleCreateInvite).Methods(http.MethodPost)
	r.HandleFunc("/invites/{id}/resolve/{account_id}", a.handleResolveInvite).Methods(http.MethodPost)
	r.HandleFunc("/invites/{id}/join", a.handleJoinNow).Methods(http.MethodPost)
	r.HandleFunc("/invites/{id}", a.handleDeleteInvite).Methods(http.MethodDelete)
	r.HandleFunc("/invites", a.handleListPendingInvites).Methods(http.MethodGet)

	r.HandleFunc("/schedulers/member_scrape/{dialog_id}/run_now", a.handleRunMemberScrapeNow).Methods(http.MethodPost)

	r.HandleFunc("/search", a.handleSearch).Methods(http.MethodGet)

	r.HandleFunc("/streams/messages", a.bus.ServeWS("new_message"))
	r.HandleFunc("/streams/detections", a.bus.ServeWS("new_detection"))
	r.HandleFunc("/streams/backfill_progress", a.bus.ServeWS("backfill_progress"))

	return r
}

func writeResult(w http.ResponseWriter, res Result) {
	w.Header().Set("Content-Type", "application/json")
	if !res.OK {
		w.WriteHeader(http.StatusBadRequest)
	}
	_ = json.NewEncoder(w).Encode(res)
}

func pathInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

func (a *API) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	writeResult(w, a.ListAccounts(r.Context()))
}

func (a *API) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.CreateAccount(r.Context(), body.Phone, nil))
}

func (a *API) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.DeleteAccount(r.Context(), id))
}

func (a *API) handleConnectAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.ConnectAccount(r.Context(), id))
}

func (a *API) handleSubmitCode(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.SubmitCode(r.Context(), id, body.Code))
}

func (a *API) handleSubmitPassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.SubmitPassword(r.Context(), id, body.Password))
}

func (a *API) handleListAvailableDialogs(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "account_id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.ListAvailableDialogs(r.Context(), id))
}

func (a *API) handleListManagedDialogs(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "account_id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.ListManagedDialogs(r.Context(), id))
}

func (a *API) handleAddDialogs(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathInt64(r, "account_id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	var body struct {
		IDs  []int64       `json:"ids"`
		Opts DialogOptions `json:"opts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.AddDialogs(r.Context(), accountID, body.IDs, body.Opts))
}

func (a *API) handleAssignDialog(w http.ResponseWriter, r *http.Request) {
	dialogID, err := pathInt64(r, "id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	accountID, err := pathInt64(r, "account_id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.AssignDialog(r.Context(), dialogID, accountID))
}

func (a *API) handleToggleMonitoring(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.ToggleMonitoring(r.Context(), id))
}

func (a *API) handleSetDialogOptions(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	var opts DialogOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.SetDialogOptions(r.Context(), id, opts))
}

func (a *API) handleStartBackfill(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.StartBackfill(r.Context(), id))
}

func (a *API) handleStopBackfill(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.StopBackfill(r.Context(), id))
}

func (a *API) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Link string `json:"link"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.CreateInvite(r.Context(), body.Link))
}

func (a *API) handleResolveInvite(w http.ResponseWriter, r *http.Request) {
	inviteID, err := pathInt64(r, "id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	accountID, err := pathInt64(r, "account_id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.ResolveInvite(r.Context(), inviteID, accountID))
}

func (a *API) handleJoinNow(w http.ResponseWriter, r *http.Request) {
	inviteID, err := pathInt64(r, "id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	var policy JoinNowPolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.JoinNow(r.Context(), inviteID, policy))
}

func (a *API) handleDeleteInvite(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.DeleteInvite(r.Context(), id))
}

func (a *API) handleListPendingInvites(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	writeResult(w, a.ListPendingInvites(r.Context(), limit))
}

func (a *API) handleRunMemberScrapeNow(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "dialog_id")
	if err != nil {
		writeResult(w, fail(err))
		return
	}
	writeResult(w, a.RunMemberScrapeNow(r.Context(), id))
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	var types []string
	if raw := q.Get("types"); raw != "" {
		types = splitCSV(raw)
	}
	writeResult(w, a.Search(r.Context(), q.Get("q"), types, limit))
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
