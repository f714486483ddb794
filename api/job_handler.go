package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
)

func (a *API) listJobs(c *gin.Context) {
	var req ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query", err)
		return
	}
	jobs, err := a.eng.Store().List(c.Request.Context(), job.ListOpts{
		Queue:  req.Queue,
		Status: job.Status(req.Status),
		Kind:   req.Kind,
		Limit:  defaultLimit(req.Limit),
		Offset: req.Offset,
	})
	if err != nil {
		a.fail(c, fmt.Errorf("list jobs: %w", err))
		return
	}
	c.JSON(http.StatusOK, nonNil(jobs))
}

func (a *API) listDue(c *gin.Context) {
	var req ListDueRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query", err)
		return
	}
	jobs, err := a.eng.Store().ListDue(c.Request.Context(), time.Now().UTC(), job.ListOpts{
		Queue: req.Queue,
		Kind:  req.Kind,
		Limit: defaultLimit(req.Limit),
	})
	if err != nil {
		a.fail(c, fmt.Errorf("list due jobs: %w", err))
		return
	}
	c.JSON(http.StatusOK, nonNil(jobs))
}

func (a *API) getJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		badRequest(c, "invalid job id", err)
		return
	}
	j, err := a.eng.Store().Get(c.Request.Context(), jobID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (a *API) dispatchJob(c *gin.Context) {
	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request", err)
		return
	}

	var opts []job.Option
	if req.Queue != "" {
		opts = append(opts, job.WithQueue(req.Queue))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(req.MaxAttempts))
	}
	for _, d := range []struct {
		field string
		value string
		apply func(time.Duration) job.Option
	}{
		{"delay", req.Delay, job.WithDelay},
		{"timeout", req.Timeout, job.WithTimeout},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			badRequest(c, "invalid "+d.field, err)
			return
		}
		opts = append(opts, d.apply(v))
	}

	payload := []byte(req.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}
	jobID, err := a.eng.DispatchRaw(c.Request.Context(), req.Kind, payload, opts...)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, DispatchResponse{JobID: jobID.String()})
}

// cancelJob kills a job that is waiting to run. Jobs owned by a worker
// cannot be cancelled from here; the status check and the transition are
// a single store operation.
func (a *API) cancelJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		badRequest(c, "invalid job id", err)
		return
	}
	err = a.eng.Store().Cancel(c.Request.Context(), jobID, "cancelled")
	switch {
	case errors.Is(err, taskq.ErrInvalidState):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "can only cancel pending or failed_retrying jobs",
		})
	case err != nil:
		a.fail(c, err)
	default:
		c.Status(http.StatusNoContent)
	}
}

func (a *API) jobCounts(c *gin.Context) {
	counts, err := a.countJobs(c)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (a *API) countJobs(c *gin.Context) (JobCountsResponse, error) {
	var resp JobCountsResponse
	for status, dst := range map[job.Status]*int64{
		job.StatusPending:        &resp.Pending,
		job.StatusReserved:       &resp.Reserved,
		job.StatusRunning:        &resp.Running,
		job.StatusSucceeded:      &resp.Succeeded,
		job.StatusFailedRetrying: &resp.FailedRetrying,
		job.StatusDead:           &resp.Dead,
	} {
		n, err := a.eng.Store().Count(c.Request.Context(), job.CountOpts{Status: status})
		if err != nil {
			return resp, fmt.Errorf("count jobs (%s): %w", status, err)
		}
		*dst = n
	}
	return resp, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
