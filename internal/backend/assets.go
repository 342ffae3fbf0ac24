// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Assets lists transcripts, translations and dubs stored for videoID.
func (c *Client) Assets(ctx context.Context, videoID string) (Assets, error) {
	var out Assets
	path := "/api/videos/" + url.PathEscape(videoID) + "/assets"
	if err := c.doJSON(ctx, "assets", http.MethodGet, path, nil, &out); err != nil {
		return Assets{}, err
	}
	return out, nil
}

// Health reports backend liveness and the configured engines.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	if err := c.doJSON(ctx, "health", http.MethodGet, "/healthz", nil, &out); err != nil {
		return Health{}, err
	}
	return out, nil
}

// Download streams the artifact at ref (a backend path or absolute URL) into w.
func (c *Client) Download(ctx context.Context, ref string, w io.Writer) (int64, error) {
	const op = "download"

	target := c.ResolveURL(ref)
	if target == "" {
		return 0, fmt.Errorf("%s: empty artifact reference", op)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := c.send(ctx, c.transfer, op, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, wrapError(op, nil, resp.StatusCode, body)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("%s: copy body: %w", op, err)
	}
	return n, nil
}
