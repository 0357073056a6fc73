package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"blafast-backend/deferral"
	"blafast-backend/middlewares"
	"blafast-backend/orgctx"

	"github.com/gofiber/fiber/v2"
)

// ErrTimeout marks an execution that exceeded its rule-configured limit.
var ErrTimeout = errors.New("deferred execution timed out")

// ErrJobPanic marks a replay whose handler panicked.
var ErrJobPanic = errors.New("deferred execution panicked")

// Replay describes the headless re-execution of a captured request.
type Replay struct {
	Method  string
	Path    string
	Query   map[string]string
	Headers map[string]string
	Body    []byte
	Octx    orgctx.Context
	Timeout time.Duration
}

type Result struct {
	StatusCode int
	Body       []byte
}

// Executor runs a replay and returns its HTTP outcome. Any HTTP response,
// 2xx or not, is a successful execution; only transport errors and timeouts
// return an error.
type Executor interface {
	Execute(ctx context.Context, replay Replay) (*Result, error)
}

// FiberExecutor replays the request against the in-process fiber app, the
// same application the request originally hit. The sentinel header stops the
// deferral middleware from re-deferring the replay, and a freshly minted
// token makes the call execute as the record's user.
type FiberExecutor struct {
	App *fiber.App
}

func (e *FiberExecutor) Execute(ctx context.Context, replay Replay) (*Result, error) {
	target := replay.Path
	if len(replay.Query) > 0 {
		q := url.Values{}
		for k, v := range replay.Query {
			q.Set(k, v)
		}
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, replay.Method, target, bytes.NewReader(replay.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range replay.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(deferral.HeaderDeferredExecution, "true")
	if replay.Octx.OrganizationID != "" {
		req.Header.Set(deferral.HeaderOrganization, replay.Octx.OrganizationID)
	}
	token, err := middlewares.GenerateJWT(replay.Octx.UserID, false)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	// app.Test's own timeout is disabled; we enforce ours so a timeout is
	// classified distinctly from a transport failure. Cancellation is
	// cooperative: an overrun handler keeps running but its result is
	// discarded by the store's CAS guard.
	type outcome struct {
		resp *http.Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, terr := e.App.Test(req, -1)
		done <- outcome{resp, terr}
	}()

	timer := time.NewTimer(replay.Timeout)
	defer timer.Stop()
	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		defer out.resp.Body.Close()
		body, rerr := io.ReadAll(out.resp.Body)
		if rerr != nil {
			return nil, rerr
		}
		return &Result{StatusCode: out.resp.StatusCode, Body: body}, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
