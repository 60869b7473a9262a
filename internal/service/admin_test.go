//
// Copyright © 2017 Solus Project
//

package service

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestAdmin(t *testing.T) *Admin {
	t.Helper()
	return NewAdmin(newTestService(t), nil)
}

func doJSON(t *testing.T, admin *Admin, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	admin.ServeHTTP(rr, req)
	return rr
}

func TestAdminAddAndGetJob(t *testing.T) {
	admin := newTestAdmin(t)

	rr := doJSON(t, admin, http.MethodPost, "/api/v1/jobs", AddRequest{TaskName: "echo", Input: []byte("hi")})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, found %d: %s", rr.Code, rr.Body.String())
	}
	var addResp AddResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &addResp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if addResp.ID == "" {
		t.Fatalf("expected a job id")
	}

	rr = doJSON(t, admin, http.MethodGet, "/api/v1/jobs/"+addResp.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, found %d: %s", rr.Code, rr.Body.String())
	}
	var jobResp JobResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &jobResp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if jobResp.Job.TaskName != "echo" {
		t.Errorf("expected taskName echo, found %q", jobResp.Job.TaskName)
	}
}

func TestAdminGetUnknownJobReturnsNotFound(t *testing.T) {
	admin := newTestAdmin(t)
	rr := doJSON(t, admin, http.MethodGet, "/api/v1/jobs/nope", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, found %d", rr.Code)
	}
}

func TestAdminCancelJob(t *testing.T) {
	admin := newTestAdmin(t)
	rr := doJSON(t, admin, http.MethodPost, "/api/v1/jobs", AddRequest{TaskName: "echo"})
	var addResp AddResponse
	json.Unmarshal(rr.Body.Bytes(), &addResp)

	rr = doJSON(t, admin, http.MethodPost, "/api/v1/jobs/"+addResp.ID+"/cancel", nil)
	var cancelResp CancelResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &cancelResp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !cancelResp.Cancelled {
		t.Errorf("expected job to be cancelled")
	}
}

func TestAdminStartStatusStop(t *testing.T) {
	admin := newTestAdmin(t)

	rr := doJSON(t, admin, http.MethodGet, "/api/v1/status", nil)
	var status StatusResponse
	json.Unmarshal(rr.Body.Bytes(), &status)
	if status.Running {
		t.Fatalf("expected not running initially")
	}

	rr = doJSON(t, admin, http.MethodPost, "/api/v1/start", StartRequest{Strategy: StrategySimple, WaitTimeMillis: 5})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, found %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, admin, http.MethodGet, "/api/v1/status", nil)
	json.Unmarshal(rr.Body.Bytes(), &status)
	if !status.Running || status.Strategy != StrategySimple {
		t.Errorf("expected simple strategy running, found %+v", status)
	}

	rr = doJSON(t, admin, http.MethodPost, "/api/v1/stop", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, found %d: %s", rr.Code, rr.Body.String())
	}
}
