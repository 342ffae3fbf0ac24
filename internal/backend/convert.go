// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ManuGH/opendub/internal/convert"
	"github.com/ManuGH/opendub/internal/log"
)

// ConvertAudio requests an audio extraction for videoID. The backend either
// answers with the finished artifact (ResultImmediate) or a job to poll
// (ResultQueued). A body carrying both is treated as immediate. Failures are
// returned as *RequestCreationError.
func (c *Client) ConvertAudio(ctx context.Context, videoID string, req convert.Request) (ConversionResult, error) {
	const op = "convert_audio"

	var out convertResponse
	path := "/api/videos/" + url.PathEscape(videoID) + "/convert/audio"
	if err := c.doJSON(ctx, op, http.MethodPost, path, req, &out); err != nil {
		return ConversionResult{}, creationError(op, err)
	}

	var res ConversionResult
	switch {
	case out.URL != "":
		res = ConversionResult{Kind: ResultImmediate, URL: out.URL}
	case out.JobID != "":
		res = ConversionResult{Kind: ResultQueued, JobID: out.JobID}
	default:
		return ConversionResult{}, creationError(op, badResponse(op, http.StatusOK, "neither url nor job_id in response"))
	}

	c.logger.Info().
		Str(log.FieldVideoID, videoID).
		Str(log.FieldFormat, req.Format).
		Str("result", res.Kind.String()).
		Str(log.FieldJobID, res.JobID).
		Msg("conversion requested")
	return res, nil
}

// CreateJob starts a dubbing job and returns its id.
func (c *Client) CreateJob(ctx context.Context, req convert.JobRequest) (string, error) {
	const op = "create_job"

	var out createJobResponse
	if err := c.doJSON(ctx, op, http.MethodPost, "/api/jobs", req, &out); err != nil {
		return "", creationError(op, err)
	}
	if out.JobID == "" {
		return "", creationError(op, badResponse(op, http.StatusOK, "missing job_id"))
	}

	c.logger.Info().
		Str(log.FieldVideoID, req.VideoID).
		Strs(log.FieldLanguages, req.TargetLanguages).
		Str(log.FieldJobID, out.JobID).
		Msg("dubbing job created")
	return out.JobID, nil
}

func creationError(op string, err error) error {
	return &RequestCreationError{Operation: op, Status: StatusOf(err), Err: err}
}
