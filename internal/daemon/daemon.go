// Package daemon runs one node: a single goroutine owns the engine and
// reacts to configuration and state events, publishing what changed after
// every build.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/awmpietro/cloudmake/internal/engine"
)

type Kind int

const (
	KindNewConfig Kind = iota
	KindNewCloudMakeConfig
	KindUpdateState
	KindTouch
)

func (k Kind) String() string {
	switch k {
	case KindNewConfig:
		return "new_config"
	case KindNewCloudMakeConfig:
		return "new_cloudmake_config"
	case KindUpdateState:
		return "update_state"
	case KindTouch:
		return "touch"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Event struct {
	Kind    Kind
	Path    string
	Content []byte
}

// NewConfig announces a configuration file managed on this node. Its entries
// are picked up by the UpdateState or Touch that writes it.
func NewConfig(path string) Event { return Event{Kind: KindNewConfig, Path: path} }

// NewCloudMakeConfig announces a configuration file CloudMake itself reads.
func NewCloudMakeConfig(path string) Event {
	return Event{Kind: KindNewCloudMakeConfig, Path: path}
}

// UpdateState replaces the content of path.
func UpdateState(path string, content []byte) Event {
	return Event{Kind: KindUpdateState, Path: path, Content: content}
}

// Touch reports that something at or below path changed.
func Touch(path string) Event { return Event{Kind: KindTouch, Path: path} }

type Store interface {
	WriteFile(entry string, data []byte) error
}

// Update is published after every build.
type Update struct {
	Node                 string        `json:"node"`
	ConfigFiles          []string      `json:"config_files"`
	CloudMakeConfigFiles []string      `json:"cloudmake_config_files"`
	Trace                *engine.Trace `json:"trace"`
	Error                string        `json:"error,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, u Update) error
}

// BuildObserver is told about every finished build.
type BuildObserver interface {
	ObserveBuild(trace *engine.Trace, err error)
}

var ErrStopped = errors.New("daemon stopped")

type Daemon struct {
	node   string
	eng    *engine.Engine
	store  Store
	pub    Publisher
	logger *slog.Logger
	builds BuildObserver
	events chan Event
	done   chan struct{}
}

type Option func(*Daemon)

func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

func WithBuildObserver(o BuildObserver) Option {
	return func(d *Daemon) { d.builds = o }
}

func WithQueueSize(n int) Option {
	return func(d *Daemon) {
		if n > 0 {
			d.events = make(chan Event, n)
		}
	}
}

func New(node string, eng *engine.Engine, store Store, pub Publisher, opts ...Option) *Daemon {
	d := &Daemon{
		node:   node,
		eng:    eng,
		store:  store,
		pub:    pub,
		logger: slog.Default(),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("node", node)
	return d
}

// Submit queues ev for the run loop.
func (d *Daemon) Submit(ctx context.Context, ev Event) error {
	select {
	case <-d.done:
		return ErrStopped
	default:
	}
	select {
	case d.events <- ev:
		return nil
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run owns the engine until ctx is cancelled. Each wake-up drains every
// queued event, then builds once.
func (d *Daemon) Run(ctx context.Context) error {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.events:
			d.handle(ev)
		drain:
			for {
				select {
				case ev := <-d.events:
					d.handle(ev)
				default:
					break drain
				}
			}
			d.build(ctx)
		}
	}
}

func (d *Daemon) handle(ev Event) {
	log := d.logger.With("event", ev.Kind.String(), "path", ev.Path)

	switch ev.Kind {
	case KindNewConfig:
		d.eng.AddConfigFile(ev.Path)
		log.Debug("config file registered")
		return
	case KindNewCloudMakeConfig:
		d.eng.AddCloudMakeConfigFile(ev.Path)
		log.Debug("cloudmake config file registered")
		return
	case KindUpdateState:
		if d.store == nil {
			log.Error("no store to write state to")
			return
		}
		if err := d.store.WriteFile(ev.Path, ev.Content); err != nil {
			log.Error("write state", "error", err)
			return
		}
	}

	found, err := d.eng.Touch(ev.Path)
	if err != nil {
		log.Warn("discovery incomplete", "error", err)
	}
	log.Debug("event handled", "entries", len(found))
}

func (d *Daemon) build(ctx context.Context) {
	if !d.eng.HasActiveEntryTokens() {
		return
	}
	trace, err := d.eng.Run(ctx)
	if d.builds != nil {
		d.builds.ObserveBuild(trace, err)
	}
	u := Update{
		Node:                 d.node,
		ConfigFiles:          d.eng.ModifiedConfigFiles(),
		CloudMakeConfigFiles: d.eng.ModifiedCloudMakeConfigFiles(),
		Trace:                trace,
	}
	if err != nil {
		u.Error = err.Error()
		d.logger.Warn("build finished with errors", "error", err)
	}
	if d.pub != nil {
		if perr := d.pub.Publish(ctx, u); perr != nil {
			d.logger.Error("publish update", "error", perr)
		}
	}
	if rerr := d.eng.Reset(); rerr != nil {
		d.logger.Error("reset", "error", rerr)
	}
}

// LogPublisher writes updates to a logger.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, u Update) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	executed := 0
	if u.Trace != nil {
		executed = u.Trace.Executed()
	}
	logger.InfoContext(ctx, "update",
		"node", u.Node,
		"config_files", u.ConfigFiles,
		"cloudmake_config_files", u.CloudMakeConfigFiles,
		"executed", executed,
		"error", u.Error,
	)
	return nil
}
