package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a *API) health(c *gin.Context) {
	if err := a.eng.Store().Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": "store ping failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "worker_id": a.eng.WorkerID().String()})
}

func (a *API) listSchedules(c *gin.Context) {
	entries := a.eng.Scheduler().Entries()
	out := make([]ScheduleResponse, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		s := ScheduleResponse{
			Name:         e.Name,
			Cron:         e.Cron,
			AllowOverlap: e.AllowOverlap,
			NextRunAt:    e.Next().UTC(),
		}
		if e.Every > 0 {
			s.Every = e.Every.String()
		}
		if !e.LastRunAt.IsZero() {
			t := e.LastRunAt.UTC()
			s.LastRunAt = &t
		}
		out = append(out, s)
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) stats(c *gin.Context) {
	jobs, err := a.countJobs(c)
	if err != nil {
		a.fail(c, err)
		return
	}
	dlqCount, err := a.eng.DLQ().Store().CountDLQ(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}

	inFlight := make(map[string]int, len(a.eng.Pools()))
	for _, p := range a.eng.Pools() {
		inFlight[p.Queue()] = p.InFlight()
	}
	resp := StatsResponse{
		Jobs:      jobs,
		DLQCount:  dlqCount,
		Schedules: len(a.eng.Scheduler().Entries()),
		InFlight:  inFlight,
	}
	if a.broker != nil {
		st := a.broker.Stats()
		resp.Stream = &st
	}
	c.JSON(http.StatusOK, resp)
}
