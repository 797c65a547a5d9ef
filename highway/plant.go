package highway

import (
	"context"
	"sync"

	"github.com/joeycumines/go-highway/internal/logging"
	"github.com/joeycumines/go-highway/mailbox"
	"github.com/joeycumines/go-highway/task"
)

// Plant is N worker goroutines draining one shared mailbox, with no
// timer phase and no self-repair: the workers are interchangeable, so a
// stuck one is just one fewer worker; nothing replaces it.
type Plant struct {
	mb               *mailbox.Mailbox[task.Task]
	exceptionHandler ExceptionHandler
	logger           *logging.Logger

	wg        sync.WaitGroup
	destroyed sync.Once
}

// NewPlant starts workerCount goroutines draining a mailbox bounded to
// mailboxCapacity concurrently-live holders (non-positive: unbounded).
func NewPlant(workerCount, mailboxCapacity int, opts ...Option) *Plant {
	c := resolveConfig(opts)
	p := &Plant{
		mb:               mailbox.New[task.Task](mailboxCapacity),
		exceptionHandler: c.exceptionHandler,
		logger:           c.logger,
	}
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Mailbox exposes the shared mailbox, e.g. so a Highway can be
// constructed with WithSharedMailbox(plant.Mailbox()).
func (p *Plant) Mailbox() *mailbox.Mailbox[task.Task] { return p.mb }

func (p *Plant) worker() {
	defer p.wg.Done()
	for {
		t, ok := p.mb.Drain(context.Background())
		if !ok {
			return
		}
		p.runTask(t)
	}
}

func (p *Plant) runTask(t task.Task) {
	defer func() {
		if r := recover(); r != nil {
			p.exceptionHandler("plant", t, r)
		}
	}()
	t.Run()
}

// TryExecute submits a best-effort task to the shared mailbox.
func (p *Plant) TryExecute(t task.Task) bool { return p.mb.TrySend(t) }

// Execute submits a task, blocking until a holder frees or the plant
// shuts down.
func (p *Plant) Execute(ctx context.Context, t task.Task) error { return p.mb.Send(ctx, t) }

// Destroy stops every worker and waits for them to exit. Idempotent.
func (p *Plant) Destroy() {
	p.destroyed.Do(func() {
		p.mb.Close()
		p.wg.Wait()
	})
}
