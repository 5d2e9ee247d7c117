// Package client is a Go client for the scan2game backend, including the
// cooperative polling loop used to follow a job to a terminal state.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"scan2game-backend/pkg/api"
)

// ErrTransport marks a polling failure on the client side. It is a terminal
// local state, distinct from a job that the server reports as failed.
var ErrTransport = errors.New("transport error")

var ErrNotFound = errors.New("not found")

const DefaultPollInterval = 2 * time.Second

type Client struct {
	http *resty.Client
}

func New(baseURL string) *Client {
	return &Client{
		http: resty.New().SetBaseURL(baseURL),
	}
}

// SubmitJob uploads an asset with the given parameter fields and returns the
// admission response. Params uses the wire field names, e.g. "target_tris".
func (c *Client) SubmitJob(ctx context.Context, filename string, content []byte, params map[string]string) (api.SubmitJobResponse, error) {
	var result api.SubmitJobResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(content)).
		SetFormData(params).
		SetResult(&result).
		Post("/jobs")
	if err != nil {
		return api.SubmitJobResponse{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.IsError() {
		return api.SubmitJobResponse{}, fmt.Errorf("submit rejected (%d): %s", resp.StatusCode(), resp.String())
	}

	return result, nil
}

func (c *Client) GetJob(ctx context.Context, jobId string) (api.Job, error) {
	var job api.Job

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&job).
		Get("/jobs/" + jobId)
	if err != nil {
		return api.Job{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return api.Job{}, ErrNotFound
	}
	if resp.IsError() {
		return api.Job{}, fmt.Errorf("get job failed (%d): %s", resp.StatusCode(), resp.String())
	}

	return job, nil
}

// Poll queries job status at a fixed interval until the job reaches a
// terminal state. There is never more than one outstanding request; the loop
// stops on the first terminal snapshot, a transport error, or ctx
// cancellation. No backoff: status is monotonic, so the latest snapshot is
// always safe to act on.
func (c *Client) Poll(ctx context.Context, jobId string, interval time.Duration) (api.Job, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobId)
		if err != nil {
			return api.Job{}, err
		}
		if api.IsTerminal(job.Status) {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Download fetches the result archive of a finished job.
func (c *Client) Download(ctx context.Context, jobId string) ([]byte, error) {
	return c.fetchBytes(ctx, "/jobs/"+jobId+"/download")
}

// Preview fetches the before or after render, if produced.
func (c *Client) Preview(ctx context.Context, jobId, which string) ([]byte, error) {
	return c.fetchBytes(ctx, "/jobs/"+jobId+"/preview/"+which)
}

// Model fetches the low-poly model by job id or output id.
func (c *Client) Model(ctx context.Context, id string) ([]byte, error) {
	return c.fetchBytes(ctx, "/jobs/"+id+"/model")
}

func (c *Client) fetchBytes(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("request failed (%d): %s", resp.StatusCode(), resp.String())
	}
	return resp.Body(), nil
}
