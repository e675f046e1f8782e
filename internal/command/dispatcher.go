package command

import (
	"context"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Dispatcher feeds inbound updates to the Processor through a bounded
// worker pool and sends the replies.
type Dispatcher struct {
	proc    *Processor
	out     transport.Messenger
	log     logx.Logger
	workers int

	jobs chan transport.Message
}

func NewDispatcher(proc *Processor, out transport.Messenger, workers int, log logx.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		proc:    proc,
		out:     out,
		log:     log.With(logx.Comp("dispatcher")),
		workers: workers,
		jobs:    make(chan transport.Message, 256),
	}
}

// Run consumes updates until ctx ends or updates is closed, then drains the
// workers for a short grace period.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(d.log),
		supervisor.WithCancelOnError(false),
	)
	d.log.Info("command dispatcher started", logx.Int("workers", d.workers), logx.Int("job_queue_cap", cap(d.jobs)))

	var closeOnce sync.Once
	closeJobs := func() { closeOnce.Do(func() { close(d.jobs) }) }

	for i := 0; i < d.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case msg, ok := <-d.jobs:
					if !ok {
						return nil
					}
					d.serve(c, idx, msg)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		d.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			select {
			case d.jobs <- *up.Message:
			default:
				d.log.Warn("command queue full", logx.Room(up.Message.Room))
				_ = d.out.SendText(ctx, up.Message.Room, "busy, try again")
			}
		}
	}
}

func (d *Dispatcher) serve(ctx context.Context, worker int, msg transport.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	reply := d.proc.Handle(ctx, msg)
	if reply.Text == "" {
		return
	}
	if err := d.out.SendText(ctx, reply.Room, reply.Text); err != nil {
		d.log.Warn("reply failed", logx.Room(reply.Room), logx.Err(err))
	}
}
