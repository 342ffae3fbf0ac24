// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ManuGH/opendub/internal/metrics"
)

const (
	uploadPath      = "/api/videos/upload"
	uploadFieldName = "file"
)

// UploadFile streams the file at path to the backend. A file that cannot be
// opened is an *UploadError with Status 0, like a transport failure.
func (c *Client) UploadFile(ctx context.Context, path string) (Resource, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return Resource{}, &UploadError{Err: fmt.Errorf("open upload source: %w", err)}
	}
	defer f.Close()
	return c.Upload(ctx, filepath.Base(path), f)
}

// Upload streams r as the multipart part "file" named name. The backend
// decides what it accepts; no size or type checks happen here.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (Resource, error) {
	const op = "upload"

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	counter := &countingReader{r: r}
	done := make(chan struct{})

	go func() {
		defer close(done)
		part, err := mw.CreateFormFile(uploadFieldName, name)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, counter); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("read upload source: %w", err))
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(uploadPath), pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		<-done
		return Resource{}, &UploadError{Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.send(ctx, c.transfer, op, req)
	// Unblock the writer goroutine if the request ended early.
	_ = pr.CloseWithError(errors.New("upload request finished"))
	<-done
	if err != nil {
		return Resource{}, asUploadError(err)
	}
	metrics.UploadBytes.Add(float64(counter.n))

	var out uploadResponse
	if err := decodeResponse(op, resp, &out); err != nil {
		return Resource{}, asUploadError(err)
	}
	if out.VideoID == "" {
		return Resource{}, &UploadError{Status: resp.StatusCode, Err: badResponse(op, resp.StatusCode, "missing video_id")}
	}

	c.logger.Info().
		Str("video_id", out.VideoID).
		Str("filename", name).
		Int64("bytes", counter.n).
		Msg("video uploaded")

	return Resource{ID: out.VideoID, Filename: out.Filename, Path: out.Path}, nil
}

// asUploadError keeps the HTTP status of err, or 0 for transport failures.
func asUploadError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &UploadError{Status: apiErr.Status, Body: apiErr.Body, Err: err}
	}
	return &UploadError{Err: err}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
