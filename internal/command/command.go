// Package command turns chat messages into reminder operations.
package command

import (
	"context"
	"strings"
	"sync"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Scheduler is what commands need from the scheduler.
type Scheduler interface {
	Schedule(ctx context.Context, r *reminder.Reminder) error
	Cancel(ctx context.Context, id string) error
	Silence(ctx context.Context, room, match string) ([]scheduler.Alarm, error)
	Alarms(ctx context.Context, room string) ([]scheduler.Alarm, error)
}

type Config struct {
	Prefix       string         // command prefix; "/" is always accepted too
	Location     *time.Location // wall-clock zone for parsing and replies
	Timeout      time.Duration  // per command
	StorageRetry storage.Policy
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = "!"
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Handle      HandlerFunc
}

type Request struct {
	Msg     transport.Message
	Command string // canonical name
	Args    string // text after the command word, trimmed
	ReqID   string
	Now     time.Time
	Log     logx.Logger
}

// Reply is the answer to one message. An empty Text means the message was
// not a command and nothing should be sent.
type Reply struct {
	Room string
	Text string
	Err  error
}

type Option func(*Processor)

func WithLogger(log logx.Logger) Option { return func(p *Processor) { p.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(p *Processor) { p.bus = bus } }

func WithClock(now func() time.Time) Option { return func(p *Processor) { p.now = now } }

type Processor struct {
	store storage.Store
	sched Scheduler
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	cfgMu sync.RWMutex
	cfg   Config

	// createMu serializes the duplicate check with the insert.
	createMu sync.Mutex

	cmds  []Command
	index map[string]*Command // name and aliases
}

func New(store storage.Store, sched Scheduler, cfg Config, opts ...Option) *Processor {
	p := &Processor{
		store: store,
		sched: sched,
		log:   logx.Nop(),
		now:   time.Now,
		cfg:   cfg.withDefaults(),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With(logx.Comp("command"))
	p.setRegistry(p.builtins())
	return p
}

// Reconfigure swaps prefix, zone and timeout. Safe during hot reload.
func (p *Processor) Reconfigure(cfg Config) {
	cfg = cfg.withDefaults()
	p.cfgMu.Lock()
	p.cfg = cfg
	p.cfgMu.Unlock()
}

func (p *Processor) config() Config {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()
	return p.cfg
}

func (p *Processor) setRegistry(cmds []Command) {
	p.cmds = cmds
	p.index = make(map[string]*Command, len(cmds)*3)
	for i := range p.cmds {
		c := &p.cmds[i]
		p.index[c.Name] = c
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, taken := p.index[a]; !taken {
				p.index[a] = c
			}
		}
	}
}

// MenuCommands lists the commands for a client-side command menu.
func (p *Processor) MenuCommands() []transport.BotCommand {
	out := make([]transport.BotCommand, 0, len(p.cmds))
	for _, c := range p.cmds {
		out = append(out, transport.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// Handle runs one message. Messages that do not start with the prefix (or
// "/") or name an unknown command yield an empty Reply.
func (p *Processor) Handle(ctx context.Context, msg transport.Message) Reply {
	cfg := p.config()
	word, args, ok := splitCommand(msg.Text, cfg.Prefix)
	if !ok {
		return Reply{}
	}
	cmd, ok := p.index[word]
	if !ok {
		return Reply{}
	}

	rid := newReqID()
	req := &Request{
		Msg:     msg,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Now:     p.now(),
		Log: p.log.With(
			logx.String("rid", rid),
			logx.Room(msg.Room),
			logx.String("from", msg.SenderID),
			logx.String("cmd", cmd.Name),
		),
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(p.log),
		MWRequestLog(p.log),
		MWMetrics(),
		MWTimeout(cfg.Timeout),
	)
	text, err := final(ctx, req)
	if err != nil {
		text = userMessage(err, cfg.Prefix)
	}
	return Reply{Room: msg.Room, Text: text, Err: err}
}

// splitCommand reads "<prefix><word>[@bot] <args>".
func splitCommand(text, prefix string) (word, args string, ok bool) {
	text = strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(text, prefix):
		text = text[len(prefix):]
	case strings.HasPrefix(text, "/"):
		text = text[1:]
	default:
		return "", "", false
	}
	word, args, _ = strings.Cut(text, " ")
	if i := strings.IndexAny(word, "\n\t"); i >= 0 {
		args = word[i:] + " " + args
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", "", false
	}
	return word, strings.TrimSpace(args), true
}

func (p *Processor) audit(ctx context.Context, req *Request, id string, err error) {
	e := storage.AuditEntry{
		At:         req.Now,
		Room:       req.Msg.Room,
		Actor:      req.Msg.SenderID,
		Action:     req.Command,
		ReminderID: id,
		Detail:     req.Args,
		OK:         err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := p.store.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
		req.Log.Debug("audit append failed", logx.Err(aerr))
	}
}

func (p *Processor) publish(typ string, data eventbus.ReminderEvent) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, Time: p.now(), Data: data})
}

// active lists the room's live reminders under the storage retry policy.
func (p *Processor) active(ctx context.Context, room string) ([]*reminder.Reminder, error) {
	var out []*reminder.Reminder
	err := storage.Retry(ctx, p.config().StorageRetry, func(ctx context.Context) error {
		var err error
		out, err = p.store.ListActive(ctx, room)
		return err
	})
	if err != nil {
		return nil, &reminder.StoreError{Op: "list", Err: err}
	}
	return out, nil
}
