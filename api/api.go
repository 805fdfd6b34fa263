/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CovenantSQL/vericerti/ledger"
	"github.com/CovenantSQL/vericerti/syncer"
	"github.com/CovenantSQL/vericerti/types"
	"github.com/CovenantSQL/vericerti/utils/log"
	"github.com/CovenantSQL/vericerti/utils/log/debug"
)

// AdminTokenHeader carries the operator token of admin routes.
const AdminTokenHeader = "X-Admin-Token"

var (
	apiTimeout = time.Second * 30

	// DefaultMaxUploadSize bounds document uploads.
	DefaultMaxUploadSize int64 = 32 << 20
)

// Options configures the HTTP surface.
type Options struct {
	// AdminToken enables admin routes, they answer 403 while it is empty.
	AdminToken string
	// Gatherer backs /metrics, the route is absent when nil.
	Gatherer prometheus.Gatherer
	// AccessLog receives the combined access log, nil disables it.
	AccessLog     io.Writer
	MaxUploadSize int64
}

type ledgerAPI struct {
	manual     *syncer.Manual
	store      ledger.Store
	service    *ledger.Service
	adminToken []byte
	maxUpload  int64
}

func sendResponse(code int, data interface{}, rw http.ResponseWriter) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	if err := json.NewEncoder(rw).Encode(data); err != nil {
		log.WithError(err).Debug("write response failed")
	}
}

func sendError(err error, rw http.ResponseWriter) {
	status, code := errorStatus(err)
	le := log.WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		le.Warning("api request failed")
	} else {
		le.Debug("api request rejected")
	}
	sendResponse(status, map[string]interface{}{
		"code":    code,
		"message": err.Error(),
	}, rw)
}

// NewHandler returns the HTTP handler of the ledger operations.
func NewHandler(manual *syncer.Manual, store ledger.Store, service *ledger.Service, opts Options) http.Handler {
	a := &ledgerAPI{
		manual:     manual,
		store:      store,
		service:    service,
		adminToken: []byte(opts.AdminToken),
		maxUpload:  opts.MaxUploadSize,
	}
	if a.maxUpload <= 0 {
		a.maxUpload = DefaultMaxUploadSize
	}

	router := mux.NewRouter()
	router.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		sendResponse(http.StatusOK, map[string]interface{}{"status": "ok"}, rw)
	}).Methods("GET")

	ledgerRouter := router.PathPrefix("/ledger").Subrouter()
	ledgerRouter.HandleFunc("/sync", a.admin(a.SyncAll)).Methods("POST")
	ledgerRouter.HandleFunc("/sync/{id}", a.admin(a.SyncEntry)).Methods("POST")
	ledgerRouter.HandleFunc("/verify/{txHash}", a.VerifyTransaction).Methods("GET")
	ledgerRouter.HandleFunc("/retry/{id}", a.admin(a.RetryEntry)).Methods("POST")
	ledgerRouter.HandleFunc("/entries/{id}", a.admin(a.GetEntry)).Methods("GET")

	orgRouter := router.PathPrefix("/organizations/{orgId}").Subrouter()
	orgRouter.HandleFunc("/ledger", a.ListTenant).Methods("GET")
	orgRouter.HandleFunc("/ledger", a.admin(a.Upload)).Methods("POST")

	if opts.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	router.HandleFunc("/debug/loglevel", a.admin(debug.LogLevelHandler)).Methods("GET", "POST")

	var h http.Handler = handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type", AdminTokenHeader}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
	)(router)
	if opts.AccessLog != nil {
		h = handlers.CombinedLoggingHandler(opts.AccessLog, h)
	}
	return h
}

// StartAPI serves handler on listenAddr in background.
func StartAPI(listenAddr string, handler http.Handler) (server *http.Server, err error) {
	server = &http.Server{
		Addr:         listenAddr,
		WriteTimeout: apiTimeout * 2,
		ReadTimeout:  apiTimeout,
		IdleTimeout:  apiTimeout,
		Handler:      handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("start api server failed")
		}
	}()

	return server, err
}

// StopAPI shuts the server down gracefully.
func StopAPI(ctx context.Context, server *http.Server) (err error) {
	return server.Shutdown(ctx)
}

func (a *ledgerAPI) admin(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		token := []byte(r.Header.Get(AdminTokenHeader))
		if len(a.adminToken) == 0 || subtle.ConstantTimeCompare(token, a.adminToken) != 1 {
			sendError(ErrForbidden, rw)
			return
		}
		h(rw, r)
	}
}

func getID(vars map[string]string, key string) (int64, error) {
	id, err := strconv.ParseInt(vars[key], 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Wrapf(ErrInvalidID, "%s: %q", key, vars[key])
	}
	return id, nil
}

// SyncAll re-checks every recorded entry against the registry.
func (a *ledgerAPI) SyncAll(rw http.ResponseWriter, r *http.Request) {
	res, err := a.manual.SyncAll(r.Context())
	if err != nil {
		sendError(err, rw)
		return
	}
	sendResponse(http.StatusOK, res, rw)
}

// SyncEntry checks a single entry.
func (a *ledgerAPI) SyncEntry(rw http.ResponseWriter, r *http.Request) {
	id, err := getID(mux.Vars(r), "id")
	if err != nil {
		sendError(err, rw)
		return
	}
	verified, err := a.manual.SyncEntry(r.Context(), id)
	if err != nil {
		sendError(err, rw)
		return
	}
	sendResponse(http.StatusOK, map[string]interface{}{
		"entryId":  id,
		"verified": verified,
	}, rw)
}

// VerifyTransaction looks up the entry anchored by a transaction.
func (a *ledgerAPI) VerifyTransaction(rw http.ResponseWriter, r *http.Request) {
	txHash := mux.Vars(r)["txHash"]
	rec, err := a.store.FindByTxRef(r.Context(), txHash)
	if errors.Cause(err) == types.ErrEntityNotFound {
		sendResponse(http.StatusOK, map[string]interface{}{
			"verified": false,
			"txHash":   txHash,
			"message":  "Transaction not found",
		}, rw)
		return
	} else if err != nil {
		sendError(err, rw)
		return
	}
	sendResponse(http.StatusOK, map[string]interface{}{
		"verified": true,
		"txHash":   txHash,
		"dataHash": rec.DataHash,
		"message":  "Transaction verified on blockchain",
	}, rw)
}

// RetryEntry moves a failed entry back to pending.
func (a *ledgerAPI) RetryEntry(rw http.ResponseWriter, r *http.Request) {
	id, err := getID(mux.Vars(r), "id")
	if err != nil {
		sendError(err, rw)
		return
	}
	rec, err := a.manual.RetryEntry(r.Context(), id)
	if err != nil {
		sendError(err, rw)
		return
	}
	sendResponse(http.StatusOK, map[string]interface{}{
		"entryId": id,
		"status":  rec.Status,
	}, rw)
}

// GetEntry returns an entry with its audit trail and the integrity of its stored document.
func (a *ledgerAPI) GetEntry(rw http.ResponseWriter, r *http.Request) {
	id, err := getID(mux.Vars(r), "id")
	if err != nil {
		sendError(err, rw)
		return
	}
	rec, err := a.store.Get(r.Context(), id)
	if err != nil {
		sendError(err, rw)
		return
	}
	trail, err := a.store.AuditTrail(r.Context(), id)
	if err != nil {
		sendError(err, rw)
		return
	}

	resp := map[string]interface{}{
		"entry": rec,
		"audit": trail,
	}
	if a.service != nil {
		intact, err := a.service.VerifyContent(r.Context(), id)
		if err != nil {
			log.WithError(err).WithField("record", id).Warning("verify stored document failed")
			resp["contentError"] = err.Error()
		} else {
			resp["contentIntact"] = intact
		}
	}
	sendResponse(http.StatusOK, resp, rw)
}

// ListTenant lists the entries of an organization.
func (a *ledgerAPI) ListTenant(rw http.ResponseWriter, r *http.Request) {
	orgID, err := getID(mux.Vars(r), "orgId")
	if err != nil {
		sendError(err, rw)
		return
	}
	records, err := a.store.FindByTenant(r.Context(), orgID)
	if err != nil {
		sendError(err, rw)
		return
	}
	if records == nil {
		records = []*types.LedgerRecord{}
	}
	sendResponse(http.StatusOK, records, rw)
}

// Upload stores a document of an organization and creates its pending entry.
func (a *ledgerAPI) Upload(rw http.ResponseWriter, r *http.Request) {
	orgID, err := getID(mux.Vars(r), "orgId")
	if err != nil {
		sendError(err, rw)
		return
	}
	if a.service == nil {
		sendError(errors.New("document upload disabled"), rw)
		return
	}

	r.Body = http.MaxBytesReader(rw, r.Body, a.maxUpload)
	if err = r.ParseMultipartForm(a.maxUpload); err != nil {
		sendError(errors.Wrap(ErrInvalidUpload, err.Error()), rw)
		return
	}
	entityID, err := getID(map[string]string{"entityId": r.FormValue("entityId")}, "entityId")
	if err != nil {
		sendError(err, rw)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		sendError(errors.Wrap(ErrInvalidUpload, err.Error()), rw)
		return
	}
	defer file.Close()
	content, err := ioutil.ReadAll(file)
	if err != nil {
		sendError(errors.Wrap(ErrInvalidUpload, err.Error()), rw)
		return
	}

	rec, err := a.service.CreateLedgerRecord(r.Context(), orgID,
		types.EntityType(r.FormValue("entityType")), entityID, content, header.Filename)
	if err != nil {
		sendError(err, rw)
		return
	}
	sendResponse(http.StatusCreated, rec, rw)
}
