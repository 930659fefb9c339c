// Package runner executes planned queries with retry/backoff and inter-request pacing and
// decodes the returned features. Any error for a planned page aborts the whole iteration —
// partial pages are never silently dropped.
package runner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nikhilvedi/esrigeo/internal/esriapi"
	"github.com/nikhilvedi/esrigeo/internal/esrierrors"
	"github.com/nikhilvedi/esrigeo/internal/httpclient"
	"github.com/nikhilvedi/esrigeo/internal/utils"
)

// Options configures pacing and retry.
type Options struct {
	PauseSeconds    int
	RequestsToPause int
	NumRetry        int
}

func (o Options) withDefaults() Options {
	if o.PauseSeconds <= 0 {
		o.PauseSeconds = 10
	}
	if o.RequestsToPause <= 0 {
		o.RequestsToPause = 5
	}
	if o.NumRetry <= 0 {
		o.NumRetry = 5
	}
	return o
}

// Sleeper abstracts time.Sleep so tests can run the retry/backoff/pacing logic without
// actually waiting; production code uses realSleeper.
type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Runner executes planned pages against one layer's query endpoint. It is not safe for
// concurrent use; a dump keeps at most one request in flight.
type Runner struct {
	req          *httpclient.Requester
	opts         Options
	sleeper      Sleeper
	logger       *utils.Logger
	requestCount int
}

// New builds a Runner. sleeper may be nil, in which case the runner sleeps for real.
func New(req *httpclient.Requester, opts Options, sleeper Sleeper) *Runner {
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	return &Runner{req: req, opts: opts.withDefaults(), sleeper: sleeper, logger: utils.NewLogger("runner")}
}

// Result is one page's decoded response.
type Result struct {
	Features              []esriapi.EsriFeature
	ExceededTransferLimit bool
}

// RunPage executes one query, retrying transport errors with linear backoff
// (pause_seconds * (attempt_index+1)) up to num_of_retry attempts. Timeout, Parse and
// Download errors are never retried — they propagate immediately as fatal.
func (r *Runner) RunPage(ctx context.Context, queryURL string, params *esriapi.QueryParams, errorLabel string) (Result, error) {
	r.pace()

	var lastErr error
	for attempt := 0; attempt <= r.opts.NumRetry; attempt++ {
		body, err := r.req.Request(ctx, httpclient.MethodPost, queryURL, params.Map(), nil, errorLabel, false)
		if err == nil {
			return decodeFeatures(body)
		}

		if !isRetryable(err) {
			return Result{}, err
		}
		if ctx.Err() != nil {
			// Consumer abandonment; retrying a canceled context would just burn the backoff
			// schedule against a request that can never succeed.
			return Result{}, err
		}

		lastErr = err
		if attempt == r.opts.NumRetry {
			break
		}
		r.logger.Warn("retrying %s after transport error (attempt %d/%d): %v", errorLabel, attempt+1, r.opts.NumRetry, err)
		r.sleeper.Sleep(time.Duration(r.opts.PauseSeconds*(attempt+1)) * time.Second)
	}

	return Result{}, esrierrors.NewDownload(errorLabel, 0, "transport retries exhausted", errString(lastErr))
}

// pace implements the every-N-requests pause; it is a property of the runner, not of
// individual retries.
func (r *Runner) pace() {
	r.requestCount++
	if r.requestCount > 1 && (r.requestCount-1)%r.opts.RequestsToPause == 0 {
		r.sleeper.Sleep(time.Duration(r.opts.PauseSeconds) * time.Second)
	}
}

func isRetryable(err error) bool {
	e, ok := err.(*esrierrors.Error)
	if !ok {
		return false
	}
	return e.Kind == esrierrors.KindTransportRetryable
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func decodeFeatures(body map[string]interface{}) (Result, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Result{}, esrierrors.NewParse("decode page", err)
	}

	var parsed esriapi.FeatureQueryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, esrierrors.NewParse("decode page", err)
	}

	return Result{Features: parsed.Features, ExceededTransferLimit: parsed.ExceededTransferLimit}, nil
}
