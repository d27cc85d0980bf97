package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/me/taskd/pkg/model"
	"golang.org/x/time/rate"
)

// BarExecutor issues an HTTP GET to a fixed endpoint and reports the status.
type BarExecutor struct {
	cfg     BarConfig
	client  *http.Client
	limiter *rate.Limiter // nil when unlimited
	logger  *slog.Logger
}

// NewBarExecutor creates a BarExecutor from cfg.
func NewBarExecutor(cfg BarConfig, logger *slog.Logger) *BarExecutor {
	e := &BarExecutor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("executor", model.TaskTypeBar),
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return e
}

func (e *BarExecutor) Type() model.TaskType { return model.TaskTypeBar }

func (e *BarExecutor) Execute(ctx context.Context, task *model.Task) Result {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return e.fail(task, fmt.Errorf("rate limit: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.URL, nil)
	if err != nil {
		return e.fail(task, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return e.fail(task, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	e.logger.Info("bar task complete", "task_id", task.ID, "status", resp.Status)
	return Result{Output: "Bar " + resp.Status}
}

func (e *BarExecutor) fail(task *model.Task, err error) Result {
	e.logger.Warn("bar task failed", "task_id", task.ID, "error", err)
	return Result{Err: err}
}
