// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ManuGH/opendub/internal/jobs"
)

// JobStatus fetches the current state of jobID. Concurrent calls for the
// same job share one request. The shared request is bounded by the client
// timeout, not by any single caller, so one caller giving up does not fail
// the others.
func (c *Client) JobStatus(ctx context.Context, jobID string) (jobs.Job, error) {
	ch := c.polls.DoChan(jobID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetchJob(fetchCtx, jobID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return jobs.Job{}, res.Err
		}
		return res.Val.(jobs.Job), nil
	case <-ctx.Done():
		return jobs.Job{}, ctx.Err()
	}
}

func (c *Client) fetchJob(ctx context.Context, jobID string) (jobs.Job, error) {
	const op = "job_status"

	var out jobStatusResponse
	if err := c.doJSON(ctx, op, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return jobs.Job{}, err
	}
	if out.State == "" {
		return jobs.Job{}, badResponse(op, http.StatusOK, "missing state")
	}

	id := out.JobID
	if id == "" {
		id = jobID
	}
	return jobs.Job{
		ID:    id,
		State: jobs.ParseState(out.State),
		Meta:  decodeMeta(out.Meta),
	}, nil
}

// decodeMeta accepts an object, or any other value as the failure detail.
func decodeMeta(v any) jobs.Meta {
	switch m := v.(type) {
	case nil:
		return jobs.Meta{}
	case map[string]any:
		return jobs.MetaFromMap(m)
	default:
		return jobs.MetaFromMap(map[string]any{"detail": m})
	}
}

var _ jobs.StatusFetcher = (*Client)(nil)
