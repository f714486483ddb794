package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/taskq/dlq"
	"github.com/xraph/taskq/id"
)

const defaultPurgeAge = 30 * 24 * time.Hour

func (a *API) listDLQ(c *gin.Context) {
	var req ListDLQRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query", err)
		return
	}
	entries, err := a.eng.DLQ().Store().ListDLQ(c.Request.Context(), dlq.ListOpts{
		Limit:  defaultLimit(req.Limit),
		Offset: req.Offset,
		Queue:  req.Queue,
		Kind:   req.Kind,
	})
	if err != nil {
		a.fail(c, fmt.Errorf("list dlq: %w", err))
		return
	}
	c.JSON(http.StatusOK, nonNil(entries))
}

func (a *API) getDLQ(c *gin.Context) {
	entryID, err := id.ParseDLQID(c.Param("entryId"))
	if err != nil {
		badRequest(c, "invalid dlq entry id", err)
		return
	}
	entry, err := a.eng.DLQ().Store().GetDLQ(c.Request.Context(), entryID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (a *API) replayDLQ(c *gin.Context) {
	entryID, err := id.ParseDLQID(c.Param("entryId"))
	if err != nil {
		badRequest(c, "invalid dlq entry id", err)
		return
	}
	j, err := a.eng.DLQ().Replay(c.Request.Context(), entryID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, j)
}

func (a *API) purgeDLQ(c *gin.Context) {
	var req PurgeDLQRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query", err)
		return
	}
	age := defaultPurgeAge
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil || d < 0 {
			badRequest(c, "invalid older_than", err)
			return
		}
		age = d
	}
	n, err := a.eng.DLQ().Purge(c.Request.Context(), age)
	if err != nil {
		a.fail(c, fmt.Errorf("purge dlq: %w", err))
		return
	}
	c.JSON(http.StatusOK, PurgeDLQResponse{Purged: n})
}

func (a *API) dlqCount(c *gin.Context) {
	n, err := a.eng.DLQ().Store().CountDLQ(c.Request.Context())
	if err != nil {
		a.fail(c, fmt.Errorf("count dlq: %w", err))
		return
	}
	c.JSON(http.StatusOK, DLQCountResponse{Count: n})
}
