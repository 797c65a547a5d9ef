package highway

import (
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-highway/internal/logging"
	"github.com/joeycumines/go-highway/mailbox"
	"github.com/joeycumines/go-highway/task"
)

// ExceptionHandler is invoked for every uncaught panic escaping a task,
// and for watchdog-detected stalls (with the zero Task, since the stalled
// task itself is not tracked). The default handler (see
// defaultExceptionHandler) logs and does not re-panic; callers that want
// a stuck highway to crash the process should supply a handler that does.
type ExceptionHandler func(highwayName string, t task.Task, recovered any)

type config struct {
	name                 string
	exceptionHandler     ExceptionHandler
	maxTaskExecutionTime time.Duration
	mailboxCapacity      int
	sharedMailbox        *mailbox.Mailbox[task.Task]
	maxRepairs           int
	repairLimiter        *catrate.Limiter
	logger               *logging.Logger
}

// Option configures a Highway, Plant, or Manager at construction.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithName sets the highway's diagnostic name, embedded in exception and
// watchdog messages.
func WithName(name string) Option {
	return optionFunc(func(c *config) { c.name = name })
}

// WithExceptionHandler overrides the default log-and-continue handler.
func WithExceptionHandler(h ExceptionHandler) Option {
	return optionFunc(func(c *config) { c.exceptionHandler = h })
}

// WithMaxTaskExecutionTime enables the stall watchdog and per-task timing:
// any single task running longer than d is reported to the exception
// handler once it returns, and, while RunWatchdog (or SelfCheck) is polling, trips the
// watchdog, which bumps the run-id and spawns a replacement worker. A
// non-positive d disables both (the default).
func WithMaxTaskExecutionTime(d time.Duration) Option {
	return optionFunc(func(c *config) { c.maxTaskExecutionTime = d })
}

// WithMailboxCapacity bounds the number of concurrently-live task holders,
// capping worst-case RAM. Non-positive means unbounded.
func WithMailboxCapacity(capacity int) Option {
	return optionFunc(func(c *config) { c.mailboxCapacity = capacity })
}

// WithSharedMailbox wires in a multi-thread plant's mailbox: when this
// highway's own mailbox is empty, its worker opportunistically drains one
// item from the shared mailbox before sleeping.
func WithSharedMailbox(shared *mailbox.Mailbox[task.Task]) Option {
	return optionFunc(func(c *config) { c.sharedMailbox = shared })
}

// WithMaxRepairs caps the number of watchdog-triggered worker replacements
// a highway will perform; beyond it the watchdog logs and refuses further
// restarts rather than spawning an unbounded number of stuck goroutines.
func WithMaxRepairs(n int) Option {
	return optionFunc(func(c *config) { c.maxRepairs = n })
}

// WithRepairRateLimit bounds how often, within window, the watchdog may
// restart a stuck worker, using a github.com/joeycumines/go-catrate
// limiter keyed by highway name. This is distinct from WithMaxRepairs (a
// lifetime cap): it protects against a pathological task that stalls,
// gets replaced, and immediately stalls again in a tight loop.
func WithRepairRateLimit(window time.Duration, maxRestarts int) Option {
	return optionFunc(func(c *config) {
		c.repairLimiter = catrate.NewLimiter(map[time.Duration]int{window: maxRestarts})
	})
}

// WithLogger sets the structured logger used for exception/watchdog/
// lifecycle events. Defaults to logging.NoOp().
func WithLogger(l *logging.Logger) Option {
	return optionFunc(func(c *config) { c.logger = l })
}

func resolveConfig(opts []Option) *config {
	c := &config{
		name:       "highway",
		maxRepairs: 8,
	}
	for _, o := range opts {
		if o != nil {
			o.apply(c)
		}
	}
	if c.logger == nil {
		c.logger = logging.NoOp()
	}
	if c.exceptionHandler == nil {
		c.exceptionHandler = defaultExceptionHandler(c)
	}
	return c
}

func defaultExceptionHandler(c *config) ExceptionHandler {
	return func(highwayName string, t task.Task, recovered any) {
		c.logger.Err().
			Str("highway", highwayName).
			Str("task", t.String()).
			Interface("panic", recovered).
			Log("unrecovered task panic")
	}
}
