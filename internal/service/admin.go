//
// Copyright © 2017 Solus Project
//

package service

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/solus-project/ferryq/internal/processor"
	"github.com/solus-project/ferryq/internal/queue"
)

// Admin wraps a Service with the httprouter-based HTTP surface used by the
// command-line client, grounded directly on ferryd's handlers.go/server.go
// pairing: one router, one sendStockError helper, GET for reads and POST
// for anything that mutates state.
type Admin struct {
	svc    *Service
	router *httprouter.Router
	log    *logrus.Entry
}

// NewAdmin builds the router and binds every route to svc.
func NewAdmin(svc *Service, log *logrus.Entry) *Admin {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	router := httprouter.New()
	a := &Admin{svc: svc, router: router, log: log}

	router.POST("/api/v1/jobs", a.AddJob)
	router.GET("/api/v1/jobs/:id", a.GetJob)
	router.POST("/api/v1/jobs/:id/cancel", a.CancelJob)
	router.GET("/api/v1/status", a.GetStatus)
	router.POST("/api/v1/start", a.StartProcessing)
	router.POST("/api/v1/stop", a.StopProcessing)

	return a
}

// ServeHTTP lets Admin be used directly as an http.Handler.
func (a *Admin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// getMethodCaller reports the name of the handler that invoked it, for
// logging context, matching ferryd's helper of the same purpose.
func getMethodCaller() string {
	n, _, _, ok := runtime.Caller(2)
	if !ok {
		return ""
	}
	if details := runtime.FuncForPC(n); details != nil {
		return details.Name()
	}
	return ""
}

// sendStockError writes a standard error Response and logs the failure
// with the caller's name, mirroring ferryd's sendStockError.
func (a *Admin) sendStockError(err error, w http.ResponseWriter) {
	a.log.WithFields(logrus.Fields{
		"error":  err,
		"method": getMethodCaller(),
	}).Error("admin API request failed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(&Response{Error: true, ErrorString: err.Error()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// AddJob handles POST /api/v1/jobs.
func (a *Admin) AddJob(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.sendStockError(err, w)
		return
	}
	id, err := a.svc.Add(req.TaskName, req.Input)
	if err != nil {
		a.sendStockError(err, w)
		return
	}
	writeJSON(w, &AddResponse{ID: id})
}

// GetJob handles GET /api/v1/jobs/:id.
func (a *Admin) GetJob(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	record, err := a.svc.Get(p.ByName("id"))
	if err == queue.ErrNotFound {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, &Response{Error: true, ErrorString: err.Error()})
		return
	}
	if err != nil {
		a.sendStockError(err, w)
		return
	}
	writeJSON(w, &JobResponse{Job: record})
}

// CancelJob handles POST /api/v1/jobs/:id/cancel.
func (a *Admin) CancelJob(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	cancelled, err := a.svc.Cancel(p.ByName("id"))
	if err == queue.ErrNotFound {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, &Response{Error: true, ErrorString: err.Error()})
		return
	}
	if err == queue.ErrAlreadyClaimed {
		writeJSON(w, &CancelResponse{Cancelled: false})
		return
	}
	if err != nil {
		a.sendStockError(err, w)
		return
	}
	writeJSON(w, &CancelResponse{Cancelled: cancelled})
}

// GetStatus handles GET /api/v1/status.
func (a *Admin) GetStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	running, strategy := a.svc.Active()
	writeJSON(w, &StatusResponse{Running: running, Strategy: strategy})
}

// StartProcessing handles POST /api/v1/start.
func (a *Admin) StartProcessing(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.sendStockError(err, w)
		return
	}
	if req.Strategy == "" {
		req.Strategy = StrategySimple
	}

	cfg := processor.Config{
		ConflictRetryLimit: req.ConflictRetryLimit,
		MaxThreads:         req.MaxThreads,
	}
	if req.WaitTimeMillis > 0 {
		cfg.WaitTime = time.Duration(req.WaitTimeMillis) * time.Millisecond
	}
	if req.ThreadStartupMillis > 0 {
		cfg.ThreadStartupWait = time.Duration(req.ThreadStartupMillis) * time.Millisecond
	}

	if err := a.svc.StartProcessing(req.Strategy, cfg); err != nil {
		a.sendStockError(err, w)
		return
	}
	writeJSON(w, &Response{})
}

// StopProcessing handles POST /api/v1/stop.
func (a *Admin) StopProcessing(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := a.svc.StopProcessing(); err != nil {
		a.sendStockError(err, w)
		return
	}
	writeJSON(w, &Response{})
}
