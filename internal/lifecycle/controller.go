// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lifecycle coordinates the on-demand compute service that runs
// the workflow server: start it, wait for it to become healthy, invoke a
// workflow through it, and stop it again when the caller does not ask to
// keep it warm.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/flowgate/internal/log"
	"github.com/tombee/flowgate/pkg/errors"
)

// Platform starts and stops the hosted compute service.
type Platform interface {
	StartService(ctx context.Context) error
	StopService(ctx context.Context) error
}

// Invoker fires a workflow on the (running) workflow server.
type Invoker interface {
	Invoke(ctx context.Context, workflowID string, payload any) (json.RawMessage, error)
}

// HealthChecker reports whether the workflow server answers its readiness
// endpoint.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Event is one lifecycle or invocation outcome handed to a Recorder.
type Event struct {
	Time       time.Time
	Action     string
	WorkflowID string
	Outcome    string
	Detail     string
	Duration   time.Duration
}

// Recorder persists lifecycle events. Recording is best effort; a recorder
// must never fail an operation.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// Config tunes the start sequence.
type Config struct {
	// StartupWait is the fixed warm-up delay after the start mutation
	// before the first health poll.
	StartupWait time.Duration

	// HealthPolls bounds the number of readiness checks. Zero skips
	// health polling entirely.
	HealthPolls int

	// HealthInterval separates consecutive polls.
	HealthInterval time.Duration

	// HealthTimeout bounds one poll.
	HealthTimeout time.Duration

	// ProceedOnUnhealthy treats exhausted health polls as a degraded
	// success instead of a start failure.
	ProceedOnUnhealthy bool
}

// State is the controller's view of the remote service. The platform is
// the source of truth; this is an optimistic local mirror used to make
// start and stop idempotent from one process.
type State struct {
	Running       bool       `json:"running"`
	LastStartedAt *time.Time `json:"last_started_at,omitempty"`
	LastStoppedAt *time.Time `json:"last_stopped_at,omitempty"`
}

// Outcomes reported by Start and Stop.
const (
	OutcomeStarted        = "started"
	OutcomeAlreadyRunning = "already_running"
	OutcomeStopped        = "stopped"
	OutcomeAlreadyStopped = "already_stopped"
)

// StartResult reports a start request.
type StartResult struct {
	Outcome string `json:"outcome"`
	Healthy bool   `json:"healthy"`
	Polls   int    `json:"polls"`
}

// StopResult reports a stop request.
type StopResult struct {
	Outcome string `json:"outcome"`
}

// InvokeResult reports a lifecycle-wrapped invocation. StopError is a
// secondary failure: the workflow outcome stands on its own, and a failed
// cleanup stop never masks it.
type InvokeResult struct {
	WorkflowID string          `json:"workflow_id"`
	KeepAlive  bool            `json:"keep_alive"`
	Start      *StartResult    `json:"start,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Stop       *StopResult     `json:"stop,omitempty"`
	StopError  string          `json:"stop_error,omitempty"`
	Duration   time.Duration   `json:"-"`
}

// BatchItem is one invocation inside a batch.
type BatchItem struct {
	WorkflowID string `json:"workflow_id"`
	Payload    any    `json:"payload,omitempty"`
}

// BatchItemResult reports one batch invocation.
type BatchItemResult struct {
	WorkflowID string          `json:"workflow_id"`
	OK         bool            `json:"ok"`
	Response   json.RawMessage `json:"response,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// BatchResult reports a whole batch. OK is true when any item succeeded.
type BatchResult struct {
	OK        bool              `json:"ok"`
	Start     *StartResult      `json:"start,omitempty"`
	Items     []BatchItemResult `json:"items"`
	Stop      *StopResult       `json:"stop,omitempty"`
	StopError string            `json:"stop_error,omitempty"`
}

// Controller serializes lifecycle operations against one remote service.
// All transitions go through flightMu so a batch cannot interleave with a
// stop from another request; state reads take only the inner mutex.
type Controller struct {
	platform Platform
	invoker  Invoker
	health   HealthChecker
	cfg      Config
	logger   *slog.Logger
	recorder Recorder

	// sleep and now are swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	flightMu sync.Mutex
	mu       sync.Mutex
	state    State
}

// NewController creates a controller. health and recorder may be nil.
func NewController(platform Platform, invoker Invoker, health HealthChecker, cfg Config, logger *slog.Logger, recorder Recorder) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		platform: platform,
		invoker:  invoker,
		health:   health,
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the controller's service state.
func (c *Controller) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start brings the service up. Starting an already-running service is a
// no-op reported as such.
func (c *Controller) Start(ctx context.Context) (*StartResult, error) {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	return c.start(ctx)
}

// start performs the start sequence. Callers hold flightMu.
func (c *Controller) start(ctx context.Context) (*StartResult, error) {
	c.mu.Lock()
	running := c.state.Running
	c.mu.Unlock()

	if running {
		c.logger.Debug("service already running, skipping start")
		recordStart(OutcomeAlreadyRunning)
		return &StartResult{Outcome: OutcomeAlreadyRunning, Healthy: true}, nil
	}

	c.logger.Info("starting workflow service")
	if err := c.platform.StartService(ctx); err != nil {
		recordStart("error")
		c.record(ctx, Event{Action: "start", Outcome: "error", Detail: err.Error()})
		return nil, errors.Wrap(err, "starting workflow service")
	}

	started := c.now()
	c.mu.Lock()
	c.state.Running = true
	c.state.LastStartedAt = &started
	c.mu.Unlock()
	setRunning(true)

	if err := c.sleep(ctx, c.cfg.StartupWait); err != nil {
		return nil, err
	}

	result := &StartResult{Outcome: OutcomeStarted}
	for i := 0; i < c.cfg.HealthPolls; i++ {
		result.Polls = i + 1
		if c.checkHealth(ctx) {
			recordHealthPoll("ok")
			result.Healthy = true
			break
		}
		recordHealthPoll("fail")
		if i < c.cfg.HealthPolls-1 {
			if err := c.sleep(ctx, c.cfg.HealthInterval); err != nil {
				return nil, err
			}
		}
	}
	if c.cfg.HealthPolls == 0 {
		result.Healthy = true
	}

	if !result.Healthy {
		c.logger.Warn("service started but never reported healthy",
			slog.Int("polls", result.Polls),
		)
		if !c.cfg.ProceedOnUnhealthy {
			recordStart("unhealthy")
			c.record(ctx, Event{Action: "start", Outcome: "unhealthy", Detail: fmt.Sprintf("%d polls exhausted", result.Polls)})
			return result, &errors.TimeoutError{
				Operation: "waiting for workflow service health",
				Duration:  c.cfg.StartupWait + time.Duration(c.cfg.HealthPolls)*c.cfg.HealthInterval,
			}
		}
	}

	recordStart(OutcomeStarted)
	c.record(ctx, Event{Action: "start", Outcome: OutcomeStarted})
	c.logger.Info("workflow service started",
		slog.Bool("healthy", result.Healthy),
		slog.Int("polls", result.Polls),
	)
	return result, nil
}

// checkHealth runs one bounded readiness probe.
func (c *Controller) checkHealth(ctx context.Context) bool {
	if c.health == nil {
		return true
	}
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()
	if err := c.health.Healthy(pollCtx); err != nil {
		c.logger.Debug("health poll failed", log.Error(err))
		return false
	}
	return true
}

// Stop brings the service down. Stopping an already-stopped service is a
// no-op; a failed stop leaves the running state unchanged so a retry is
// not skipped.
func (c *Controller) Stop(ctx context.Context) (*StopResult, error) {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	return c.stop(ctx)
}

// stop performs the stop sequence. Callers hold flightMu.
func (c *Controller) stop(ctx context.Context) (*StopResult, error) {
	c.mu.Lock()
	running := c.state.Running
	c.mu.Unlock()

	if !running {
		c.logger.Debug("service already stopped, skipping stop")
		recordStop(OutcomeAlreadyStopped)
		return &StopResult{Outcome: OutcomeAlreadyStopped}, nil
	}

	c.logger.Info("stopping workflow service")
	if err := c.platform.StopService(ctx); err != nil {
		recordStop("error")
		c.record(ctx, Event{Action: "stop", Outcome: "error", Detail: err.Error()})
		return nil, errors.Wrap(err, "stopping workflow service")
	}

	stopped := c.now()
	c.mu.Lock()
	c.state.Running = false
	c.state.LastStoppedAt = &stopped
	c.mu.Unlock()
	setRunning(false)

	recordStop(OutcomeStopped)
	c.record(ctx, Event{Action: "stop", Outcome: OutcomeStopped})
	return &StopResult{Outcome: OutcomeStopped}, nil
}

// Invoke runs one workflow with the full lifecycle wrapper: start the
// service, fire the webhook, and stop again unless keepAlive is set. The
// cleanup stop is attempted exactly once no matter how the invocation
// ends; its failure is reported in StopError, never in err.
func (c *Controller) Invoke(ctx context.Context, workflowID string, payload any, keepAlive bool) (result *InvokeResult, err error) {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()

	result = &InvokeResult{WorkflowID: workflowID, KeepAlive: keepAlive}
	began := c.now()

	startResult, startErr := c.start(ctx)
	if startErr != nil {
		recordInvocation("start_failed")
		c.record(ctx, Event{Action: "invoke", WorkflowID: workflowID, Outcome: "start_failed", Detail: startErr.Error()})
		return result, startErr
	}
	result.Start = startResult

	if !keepAlive {
		defer func() {
			stopResult, stopErr := c.stop(context.WithoutCancel(ctx))
			if stopErr != nil {
				c.logger.Error("cleanup stop failed",
					slog.String(log.WorkflowIDKey, workflowID),
					log.Error(stopErr),
				)
				result.StopError = stopErr.Error()
				return
			}
			result.Stop = stopResult
		}()
	}

	response, invokeErr := c.invoker.Invoke(ctx, workflowID, payload)
	result.Duration = c.now().Sub(began)
	lifecycleInvokeDuration.Observe(result.Duration.Seconds())

	if invokeErr != nil {
		recordInvocation("error")
		c.record(ctx, Event{Action: "invoke", WorkflowID: workflowID, Outcome: "error", Detail: invokeErr.Error(), Duration: result.Duration})
		return result, invokeErr
	}

	result.Response = response
	recordInvocation("ok")
	c.record(ctx, Event{Action: "invoke", WorkflowID: workflowID, Outcome: "ok", Duration: result.Duration})
	c.logger.Info("workflow invoked",
		slog.String(log.WorkflowIDKey, workflowID),
		slog.Bool("keep_alive", keepAlive),
		slog.Duration(log.DurationKey, result.Duration),
	)
	return result, nil
}

// RunBatch runs several workflows against one start/stop cycle: the
// service starts once, every item is invoked with the service kept warm,
// and the service stops once at the end. The final stop runs even when an
// item fails or panics.
func (c *Controller) RunBatch(ctx context.Context, items []BatchItem) (result *BatchResult, err error) {
	if len(items) == 0 {
		return nil, &errors.ValidationError{Field: "items", Message: "batch must contain at least one item"}
	}

	c.flightMu.Lock()
	defer c.flightMu.Unlock()

	result = &BatchResult{}

	startResult, startErr := c.start(ctx)
	if startErr != nil {
		c.record(ctx, Event{Action: "batch", Outcome: "start_failed", Detail: startErr.Error()})
		return result, startErr
	}
	result.Start = startResult

	defer func() {
		stopResult, stopErr := c.stop(context.WithoutCancel(ctx))
		if stopErr != nil {
			c.logger.Error("batch cleanup stop failed", log.Error(stopErr))
			result.StopError = stopErr.Error()
			return
		}
		result.Stop = stopResult
	}()

	for _, item := range items {
		itemResult := BatchItemResult{WorkflowID: item.WorkflowID}

		if ctxErr := ctx.Err(); ctxErr != nil {
			itemResult.Error = ctxErr.Error()
			result.Items = append(result.Items, itemResult)
			continue
		}

		began := c.now()
		response, invokeErr := c.invoker.Invoke(ctx, item.WorkflowID, item.Payload)
		duration := c.now().Sub(began)

		if invokeErr != nil {
			recordInvocation("error")
			c.record(ctx, Event{Action: "batch_invoke", WorkflowID: item.WorkflowID, Outcome: "error", Detail: invokeErr.Error(), Duration: duration})
			itemResult.Error = invokeErr.Error()
		} else {
			recordInvocation("ok")
			c.record(ctx, Event{Action: "batch_invoke", WorkflowID: item.WorkflowID, Outcome: "ok", Duration: duration})
			itemResult.OK = true
			itemResult.Response = response
			result.OK = true
		}
		result.Items = append(result.Items, itemResult)
	}

	c.record(ctx, Event{Action: "batch", Outcome: batchOutcome(result)})
	return result, nil
}

func batchOutcome(result *BatchResult) string {
	if result.OK {
		return "ok"
	}
	return "error"
}

// record forwards an event to the recorder when one is configured.
func (c *Controller) record(ctx context.Context, event Event) {
	if c.recorder == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = c.now()
	}
	c.recorder.Record(context.WithoutCancel(ctx), event)
}
