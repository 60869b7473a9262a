//
// Copyright © 2017 Solus Project
//

package service

import "github.com/solus-project/ferryq/internal/queue"

// Response is the base portion of every admin API reply, carrying any
// error that occurred servicing the request.
type Response struct {
	Error       bool   `json:"error"`
	ErrorString string `json:"errorString,omitempty"`
}

// AddRequest is posted to enqueue a new job.
type AddRequest struct {
	TaskName string `json:"taskName"`
	Input    []byte `json:"input"`
}

// AddResponse carries the id assigned to a newly enqueued job.
type AddResponse struct {
	Response
	ID string `json:"id"`
}

// JobResponse carries a single job's current record.
type JobResponse struct {
	Response
	Job queue.Record `json:"job"`
}

// CancelResponse reports whether a cancel request actually cancelled the
// job (false if it had already progressed past QUEUED).
type CancelResponse struct {
	Response
	Cancelled bool `json:"cancelled"`
}

// StatusResponse describes whether a processor is currently running.
type StatusResponse struct {
	Response
	Running  bool   `json:"running"`
	Strategy string `json:"strategy,omitempty"`
}

// StartRequest selects a processor strategy and its tuning parameters.
type StartRequest struct {
	Strategy           string `json:"strategy"`
	WaitTimeMillis      int64  `json:"waitTimeMillis,omitempty"`
	ConflictRetryLimit  int    `json:"conflictRetryLimit,omitempty"`
	MaxThreads          int    `json:"maxThreads,omitempty"`
	ThreadStartupMillis int64  `json:"threadStartupMillis,omitempty"`
}
