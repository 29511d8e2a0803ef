package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MIRChain/mir-control-center/internal/events"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/mqtt"
	"github.com/MIRChain/mir-control-center/internal/plugin"
	"github.com/MIRChain/mir-control-center/internal/process"
)

const (
	defaultOutboxSize = 256
	commandQoS        = 1
	defaultApp        = "mqtt"
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Metrics is the subset of *influxdb.Client the bridge uses.
type Metrics interface {
	WritePluginState(plugin, state string)
	WritePluginEvent(plugin, event string)
	WriteProcessStats(plugin string, stats process.Stats)
}

// Registry resolves plugins by name. *plugin.Registry satisfies it.
type Registry interface {
	Get(name string) (*plugin.Proxy, error)
	List() []*plugin.Proxy
}

// Logger is satisfied by logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Bridge. MQTT and Metrics are each optional, but not both.
type Options struct {
	Registry Registry
	MQTT     MQTTClient
	Metrics  Metrics
	Logger   Logger

	// PublishLogs forwards log events to MQTT.
	PublishLogs bool

	// StatsInterval is how often running processes are sampled into
	// Metrics. Zero disables sampling.
	StatsInterval time.Duration

	// OutboxSize bounds the number of MQTT messages waiting to be
	// published. Events beyond it are dropped.
	OutboxSize int
}

type outbound struct {
	topic    string
	payload  any
	retained bool
}

// Bridge forwards plugin events to MQTT and metrics and executes commands
// received over MQTT.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	registry    Registry
	mqtt        MQTTClient
	metrics     Metrics
	logger      Logger
	publishLogs bool
	interval    time.Duration
	topics      mqtt.Topics

	outbox chan outbound

	mu   sync.Mutex
	subs []*events.Subscription

	group    *errgroup.Group
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	dropped  uint64
}

// New validates opts and creates a stopped Bridge.
func New(opts Options) (*Bridge, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("bridge: registry is required")
	}
	if opts.MQTT == nil && opts.Metrics == nil {
		return nil, ErrNoSinks
	}
	size := opts.OutboxSize
	if size <= 0 {
		size = defaultOutboxSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{
		registry:    opts.Registry,
		mqtt:        opts.MQTT,
		metrics:     opts.Metrics,
		logger:      logger,
		publishLogs: opts.PublishLogs,
		interval:    opts.StatsInterval,
		outbox:      make(chan outbound, size),
	}, nil
}

// Start subscribes to every registered plugin, publishes their current
// state and listens for commands. Plugins registered later are not bridged.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.group, b.ctx = errgroup.WithContext(b.ctx)

	proxies := b.registry.List()

	b.mu.Lock()
	for _, x := range proxies {
		b.subs = append(b.subs, x.Subscribe(b.forward(x.Name())))
	}
	b.mu.Unlock()

	if b.mqtt != nil {
		b.group.Go(b.publishLoop)
		for _, x := range proxies {
			b.publishState(x.Name(), string(x.State()))
		}
		topic := b.topics.AllPluginCommands()
		if err := b.mqtt.Subscribe(topic, commandQoS, b.handleMQTTMessage); err != nil {
			b.Stop()
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		b.logger.Info("subscribed to plugin commands", "topic", topic)
	}

	if b.metrics != nil && b.interval > 0 {
		b.group.Go(b.sampleLoop)
	}

	b.logger.Info("bridge started", "plugins", len(proxies), "mqtt", b.mqtt != nil, "metrics", b.metrics != nil)
	return nil
}

// Stop detaches from all plugins, drains pending work and returns. It is
// safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		subs := b.subs
		b.subs = nil
		b.mu.Unlock()
		for _, s := range subs {
			s.Cancel()
		}

		if b.mqtt != nil && b.cancel != nil {
			if err := b.mqtt.Unsubscribe(b.topics.AllPluginCommands()); err != nil {
				b.logger.Debug("unsubscribe from commands", "error", err)
			}
		}
		if b.cancel != nil {
			b.cancel()
			_ = b.group.Wait()
		}
		b.logger.Info("bridge stopped")
	})
}

// forward returns the event handler for one plugin. It runs on the
// plugin's emitting goroutine, so it never blocks on the network.
func (b *Bridge) forward(name string) events.Handler {
	return func(ev events.Event) {
		if ev.Name == events.NewState {
			state := fmt.Sprint(ev.Payload)
			if b.metrics != nil {
				b.metrics.WritePluginState(name, state)
			}
			b.publishState(name, state)
			return
		}

		if ev.Name == events.Log {
			if !b.publishLogs {
				return
			}
		} else if b.metrics != nil {
			b.metrics.WritePluginEvent(name, string(ev.Name))
		}

		b.enqueue(outbound{
			topic: b.topics.PluginEvent(name, string(ev.Name)),
			payload: EventMessage{
				Plugin:    name,
				Event:     string(ev.Name),
				Payload:   ev.Payload,
				Timestamp: time.Now().UTC(),
			},
		})
	}
}

func (b *Bridge) publishState(name, state string) {
	b.enqueue(outbound{
		topic:    b.topics.PluginState(name),
		payload:  StateMessage{Plugin: name, State: state, Timestamp: time.Now().UTC()},
		retained: true,
	})
}

func (b *Bridge) enqueue(msg outbound) {
	if b.mqtt == nil {
		return
	}
	select {
	case b.outbox <- msg:
	default:
		b.mu.Lock()
		b.dropped++
		dropped := b.dropped
		b.mu.Unlock()
		b.logger.Warn("MQTT outbox full, dropping message", "topic", msg.topic, "dropped_total", dropped)
	}
}

func (b *Bridge) publishLoop() error {
	for {
		select {
		case <-b.ctx.Done():
			b.drain()
			return nil
		case msg := <-b.outbox:
			b.publish(msg)
		}
	}
}

// drain publishes what is already queued so final states reach the broker.
func (b *Bridge) drain() {
	for {
		select {
		case msg := <-b.outbox:
			b.publish(msg)
		default:
			return
		}
	}
}

func (b *Bridge) publish(msg outbound) {
	if err := b.mqtt.PublishJSON(msg.topic, msg.payload, msg.retained); err != nil {
		b.logger.Warn("failed to publish plugin event", "topic", msg.topic, "error", err)
	}
}

func (b *Bridge) sampleLoop() error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return nil
		case <-ticker.C:
			b.sample()
		}
	}
}

func (b *Bridge) sample() {
	for _, x := range b.registry.List() {
		if x.IsRunning() {
			b.metrics.WriteProcessStats(x.Name(), x.Stats())
		}
	}
}

// handleMQTTMessage accepts commands and runs them off the MQTT goroutine.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	name, leaf, ok := mqtt.ParsePluginTopic(topic)
	if !ok || leaf != mqtt.CommandSuffix {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parsing command for %s: %w", name, err)
	}
	if cmd.ID == "" {
		cmd.ID = newCommandID()
	}

	x, err := b.registry.Get(name)
	if err != nil {
		b.ack(name, cmd, AckFailed, err)
		return err
	}
	if cmd.Action != ActionStart && cmd.Action != ActionStop {
		err := fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
		b.ack(name, cmd, AckFailed, err)
		return err
	}
	if b.ctx.Err() != nil {
		return b.ctx.Err()
	}

	b.logger.Info("received plugin command", "plugin", name, "action", cmd.Action, "command_id", cmd.ID)
	b.ack(name, cmd, AckAccepted, nil)

	b.group.Go(func() error {
		if err := b.execute(b.ctx, x, cmd); err != nil {
			b.logger.Error("plugin command failed", "plugin", name, "action", cmd.Action, "error", err)
			b.ack(name, cmd, AckFailed, err)
			return nil
		}
		b.ack(name, cmd, AckCompleted, nil)
		return nil
	})
	return nil
}

func (b *Bridge) execute(ctx context.Context, x *plugin.Proxy, cmd CommandMessage) error {
	switch cmd.Action {
	case ActionStart:
		app := cmd.App
		if app == "" {
			app = defaultApp
		}
		return x.RequestStart(ctx, app, cmd.Flags, nil)
	default:
		return x.Stop(ctx)
	}
}

func (b *Bridge) ack(name string, cmd CommandMessage, status AckStatus, err error) {
	b.enqueue(outbound{topic: b.topics.PluginAck(name), payload: newAck(name, cmd, status, err)})
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
