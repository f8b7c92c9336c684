package command

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wallbox-bridge/config"
	"wallbox-bridge/internal/model"
	"wallbox-bridge/internal/parse"
	"wallbox-bridge/internal/schema"
	"wallbox-bridge/internal/store"
	"wallbox-bridge/internal/wallbox"
)

var (
	// ErrUnknownCommand is returned for paths without a dispatch entry.
	ErrUnknownCommand = errors.New("no command for state")
	// ErrResumeLocked is returned when resume is requested on a locked
	// charger while unlock before resume is disabled.
	ErrResumeLocked = errors.New("charger is locked and unlock before resume is disabled")
)

// ValidationError reports a command value that is rejected before any
// vendor call.
type ValidationError struct {
	Path   string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value %v for %s: %s", e.Value, e.Path, e.Reason)
}

// Vendor is the part of the vendor client the dispatcher uses.
type Vendor interface {
	Authenticate(ctx context.Context, email, password string) (string, error)
	SubmitChange(ctx context.Context, token, chargerID, field string, value any) (*wallbox.ChargerData, error)
	SubmitAction(ctx context.Context, token, chargerID string, action wallbox.Action) (wallbox.ActionResult, error)
}

// Synchronizer gives access to the last charger snapshot and the refresh.
type Synchronizer interface {
	Charger() *wallbox.ChargerData
	ApplyCharger(ctx context.Context, data *wallbox.ChargerData)
	ScheduleRefresh()
}

// Notifier delivers user notifications.
type Notifier interface {
	Notify(topic, message string)
}

// Request is one external write to a writable state.
type Request struct {
	ID    string
	Path  string
	Value any
}

type descriptor struct {
	// trigger commands act on true only; false is ignored.
	trigger      bool
	validate     func(v any) (any, bool)
	reason       string
	precondition func(d *Dispatcher) error
	run          func(ctx context.Context, d *Dispatcher, req Request, token string, value any) error
}

// commands maps the last path segment of a writable state to its command.
var commands = map[string]descriptor{
	"name": {
		validate: validString,
		reason:   "name must be a string",
		run:      changeField("name"),
	},
	"locked": {
		validate: validLock,
		reason:   "states should be lock: 1 or unlock: 0",
		run:      changeField("locked"),
	},
	"maxChargingCurrent": {
		validate: validCurrent,
		reason:   "current must be a positive number",
		run:      changeField("maxChargingCurrent"),
	},
	"pause": {
		trigger: true,
		run:     action(wallbox.ActionPause),
	},
	"resume": {
		trigger:      true,
		precondition: resumePrecondition,
		run:          resume,
	},
	"reboot": {
		trigger: true,
		run:     action(wallbox.ActionReboot),
	},
	"factory": {
		trigger: true,
		run:     action(wallbox.ActionFactoryReset),
	},
	"update": {
		trigger: true,
		run:     action(wallbox.ActionUpdate),
	},
}

// Suffixes returns the path suffixes the dispatcher handles.
func Suffixes() []string {
	out := make([]string, 0, len(commands))
	for k := range commands {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dispatcher turns external writes into vendor calls.
type Dispatcher struct {
	cfg      config.WallboxConfig
	vendor   Vendor
	sync     Synchronizer
	notifier Notifier
	log      *zap.Logger
	jobs     chan Request
}

// NewDispatcher creates a dispatcher. notifier may be nil.
func NewDispatcher(cfg config.WallboxConfig, vendor Vendor, sync Synchronizer, notifier Notifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		vendor:   vendor,
		sync:     sync,
		notifier: notifier,
		log:      logger.Named("command").With(zap.String("charger", cfg.ChargerID)),
		jobs:     make(chan Request, 16),
	}
}

// Start processes queued requests one at a time until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case req := <-d.jobs:
				if err := d.Dispatch(ctx, req); err != nil {
					d.log.Debug("command finished with error", zap.String("request", req.ID), zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// HandleChange is a store subscriber. Acknowledged writes are published
// values and are ignored; only external requests are queued.
func (d *Dispatcher) HandleChange(c store.Change) {
	if c.Ack {
		return
	}
	if _, ok := lookup(c.Path); !ok {
		return
	}
	id := c.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	select {
	case d.jobs <- Request{ID: id, Path: c.Path, Value: c.Value}:
	default:
		d.log.Warn("command queue full, dropping request", zap.String("path", c.Path), zap.String("request", id))
	}
}

// Dispatch validates and executes one request. A refresh poll is scheduled
// after every request that reached the vendor.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	log := d.log.With(zap.String("path", req.Path), zap.String("request", req.ID))

	desc, ok := lookup(req.Path)
	if !ok {
		return fmt.Errorf("%s: %w", req.Path, ErrUnknownCommand)
	}

	var value any
	if desc.trigger {
		pressed, ok := parse.Bool(req.Value)
		if !ok {
			return d.reject(log, &ValidationError{Path: req.Path, Value: req.Value, Reason: "expected a boolean"})
		}
		if !pressed {
			log.Debug("ignoring false on trigger state")
			return nil
		}
		value = true
	} else {
		value, ok = desc.validate(req.Value)
		if !ok {
			return d.reject(log, &ValidationError{Path: req.Path, Value: req.Value, Reason: desc.reason})
		}
	}

	if desc.precondition != nil {
		if err := desc.precondition(d); err != nil {
			return d.reject(log, err)
		}
	}

	token, err := d.vendor.Authenticate(ctx, d.cfg.Email, d.cfg.Password)
	if err != nil {
		log.Warn("failed to get token for command", zap.Error(err))
		d.notify(model.TopicCommandRejected, fmt.Sprintf("%s failed: %v", req.Path, err))
		return err
	}

	err = desc.run(ctx, d, req, token, value)

	var notApplied *wallbox.ChangeNotAppliedError
	switch {
	case err == nil:
		d.sync.ScheduleRefresh()
	case errors.As(err, &notApplied):
		log.Warn("change was not applied by the charger", zap.Error(err))
		d.notify(model.TopicCommandRejected, notApplied.Error())
		d.sync.ScheduleRefresh()
	default:
		log.Warn("command failed", zap.Error(err))
		d.notify(model.TopicCommandRejected, fmt.Sprintf("%s failed: %v", req.Path, err))
	}
	return err
}

func (d *Dispatcher) reject(log *zap.Logger, err error) error {
	log.Warn("command rejected", zap.Error(err))
	d.notify(model.TopicCommandRejected, err.Error())
	return err
}

func (d *Dispatcher) notify(topic, message string) {
	if d.notifier != nil {
		d.notifier.Notify(topic, message)
	}
}

// lookup resolves the command of a writable state.
func lookup(path string) (descriptor, bool) {
	if node, ok := schema.Lookup(path); !ok || !node.Write {
		return descriptor{}, false
	}
	suffix := path
	if i := strings.LastIndex(path, "."); i >= 0 {
		suffix = path[i+1:]
	}
	desc, ok := commands[suffix]
	return desc, ok
}

func changeField(field string) func(ctx context.Context, d *Dispatcher, req Request, token string, value any) error {
	return func(ctx context.Context, d *Dispatcher, req Request, token string, value any) error {
		d.log.Info("requesting change", zap.String("field", field), zap.Any("value", value), zap.String("request", req.ID))
		data, err := d.vendor.SubmitChange(ctx, token, d.cfg.ChargerID, field, value)
		if data != nil {
			d.sync.ApplyCharger(ctx, data)
		}
		return err
	}
}

func action(a wallbox.Action) func(ctx context.Context, d *Dispatcher, req Request, token string, value any) error {
	return func(ctx context.Context, d *Dispatcher, req Request, token string, value any) error {
		d.log.Info("requesting remote action", zap.String("action", a.String()), zap.String("request", req.ID))
		result, err := d.vendor.SubmitAction(ctx, token, d.cfg.ChargerID, a)
		if err != nil {
			return err
		}
		if result == wallbox.ActionAlreadyApplied {
			d.log.Info("charger already in requested state", zap.String("action", a.String()), zap.String("request", req.ID))
		}
		return nil
	}
}

func resumePrecondition(d *Dispatcher) error {
	if chargerLocked(d.sync.Charger()) && !d.cfg.UnlockBeforeResume {
		return ErrResumeLocked
	}
	return nil
}

func resume(ctx context.Context, d *Dispatcher, req Request, token string, value any) error {
	if chargerLocked(d.sync.Charger()) {
		d.log.Info("unlocking charger before resume", zap.String("request", req.ID))
		if err := changeField("locked")(ctx, d, req, token, int64(0)); err != nil {
			return fmt.Errorf("unlock before resume: %w", err)
		}
	}
	return action(wallbox.ActionResume)(ctx, d, req, token, value)
}

func chargerLocked(c *wallbox.ChargerData) bool {
	locked, ok := c.Locked()
	return ok && locked == 1
}

func validString(v any) (any, bool) {
	s, ok := v.(string)
	return s, ok
}

func validLock(v any) (any, bool) {
	f, ok := parse.Float(v)
	if !ok || (f != 0 && f != 1) {
		return nil, false
	}
	return int64(f), true
}

func validCurrent(v any) (any, bool) {
	f, ok := parse.Float(v)
	if !ok || f <= 0 {
		return nil, false
	}
	if f == math.Trunc(f) {
		return int64(f), true
	}
	return f, true
}
