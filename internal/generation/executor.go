package generation

import (
	"context"
	"errors"
	"strings"
	"time"

	"examforge/internal/logger"
	"examforge/internal/models"
	"examforge/internal/providers"

	"github.com/avast/retry-go/v4"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 2000 * time.Millisecond
)

// Call is one unit the executor retries: an external generation call followed
// by parsing of its text.
type Call struct {
	Generate func(ctx context.Context) (providers.GenerateResponse, providers.ProviderInfo, error)
	Parse    func(text string) ([]models.Question, error)
	// Heartbeat renews the run's liveness before each retry sleep. Returning
	// models.ErrAttemptLost stops the remaining retries.
	Heartbeat func(ctx context.Context) error
	// Observe, when set, sees every try for the call audit log.
	Observe func(TryRecord)
}

type TryRecord struct {
	Try      int
	Info     providers.ProviderInfo
	Usage    models.Usage
	Kind     Kind
	Err      error
	Duration time.Duration
}

type Result struct {
	Items    []models.Question
	Usage    models.Usage
	Attempts int
	Info     providers.ProviderInfo
}

// Timer is the sleep source used between tries; tests substitute one that
// fires immediately.
type Timer interface {
	After(time.Duration) <-chan time.Time
}

type Executor struct {
	MaxRetries int
	BaseDelay  time.Duration
	Timer      Timer
	Log        *logger.Logger
}

func NewExecutor(maxRetries int, baseDelay time.Duration, log *logger.Logger) *Executor {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Executor{MaxRetries: maxRetries, BaseDelay: baseDelay, Log: log}
}

// Backoff is the wait after the given failed try (1-indexed): base*try,
// doubled when the service timed out.
func (e *Executor) Backoff(try int, kind Kind) time.Duration {
	d := e.BaseDelay * time.Duration(try)
	if kind == KindTimeout {
		d *= 2
	}
	return d
}

// Execute runs the call up to MaxRetries+1 times. On exhaustion the last
// failure is returned as *Error carrying its class and the number of tries.
func (e *Executor) Execute(ctx context.Context, call Call) (Result, error) {
	total := e.MaxRetries + 1
	var (
		res      Result
		try      int
		lastKind Kind
		lost     error
	)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	attempt := func() error {
		if lost != nil {
			return retry.Unrecoverable(lost)
		}
		try++
		res.Attempts = try
		started := time.Now()
		items, info, usage, err := e.once(runCtx, call)
		res.Usage = res.Usage.Add(usage)
		res.Info = info
		lastKind = ""
		if err != nil {
			lastKind = KindOf(err)
		}
		if call.Observe != nil {
			call.Observe(TryRecord{Try: try, Info: info, Usage: usage, Kind: lastKind, Err: err, Duration: time.Since(started)})
		}
		if err != nil {
			return err
		}
		res.Items = items
		return nil
	}

	opts := []retry.Option{
		retry.Context(runCtx),
		retry.Attempts(uint(total)),
		retry.LastErrorOnly(true),
		retry.DelayType(func(_ uint, _ error, _ *retry.Config) time.Duration {
			return e.Backoff(try, lastKind)
		}),
		retry.OnRetry(func(_ uint, err error) {
			if try >= total {
				return
			}
			e.Log.Warn("generation try failed, retrying", "try", try, "of", total, "kind", lastKind, "error", err)
			if call.Heartbeat == nil {
				return
			}
			if hbErr := call.Heartbeat(runCtx); hbErr != nil {
				if errors.Is(hbErr, models.ErrAttemptLost) {
					lost = hbErr
					cancel()
					return
				}
				e.Log.Warn("heartbeat refresh failed", "error", hbErr)
			}
		}),
	}
	if e.Timer != nil {
		opts = append(opts, retry.WithTimer(e.Timer))
	}

	err := retry.Do(attempt, opts...)
	if lost != nil {
		return res, lost
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, &Error{Kind: KindTimeout, Attempts: try, Err: ctxErr}
		}
		var ge *Error
		if errors.As(err, &ge) {
			return res, &Error{Kind: ge.Kind, Attempts: try, Err: ge.Err}
		}
		return res, &Error{Kind: Classify(err), Attempts: try, Err: err}
	}
	return res, nil
}

func (e *Executor) once(ctx context.Context, call Call) ([]models.Question, providers.ProviderInfo, models.Usage, error) {
	resp, info, err := call.Generate(ctx)
	if err != nil {
		return nil, info, resp.Usage, &Error{Kind: Classify(err), Err: err}
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil, info, resp.Usage, &Error{Kind: KindService, Err: ErrEmptyResponse}
	}
	items, err := call.Parse(resp.Text)
	if err != nil {
		return nil, info, resp.Usage, &Error{Kind: KindParse, Err: err}
	}
	if len(items) == 0 {
		return nil, info, resp.Usage, &Error{Kind: KindParse, Err: ErrNoItems}
	}
	return items, info, resp.Usage, nil
}
