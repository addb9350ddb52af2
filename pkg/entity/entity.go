package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/deebot-t8/deebot-t8-go/pkg/api"
	"github.com/deebot-t8/deebot-t8-go/pkg/subscription"
)

// Entity errors.
var (
	// ErrNotSubscribed indicates the observer is not attached.
	ErrNotSubscribed = errors.New("observer not attached")
)

// DefaultPollInterval is the default delay between poll cycles.
const DefaultPollInterval = 2 * time.Minute

// offlineThreshold is the number of consecutive command failures after
// which the robot is considered offline. Two failures (rather than one)
// keeps a single transient error from flapping the online flag.
const offlineThreshold = 2

// CommandExecutor relays commands to a device. It is satisfied by
// *api.Client.
type CommandExecutor interface {
	Execute(ctx context.Context, device api.Device, command string, data any) (*api.Response, error)
}

// PushChannel manages broker subscriptions. It is satisfied by
// *subscription.Client.
type PushChannel interface {
	Subscribe(ctx context.Context, device api.Device, handler subscription.MessageHandler) (*subscription.Subscription, error)
	Unsubscribe(sub *subscription.Subscription) error
}

// ObserverFunc receives a state snapshot and the field that changed.
// It runs on the path that produced the change (broker receive or poll
// goroutine) and must not block; hand off slow work asynchronously.
type ObserverFunc func(state State, field Field)

// Observer is an attached state observer. It is returned by Attach and
// passed back to Detach.
type Observer struct {
	id      uint64
	handler ObserverFunc
}

// Config configures an Entity.
type Config struct {
	// Executor relays commands to the device.
	Executor CommandExecutor

	// Push manages the broker subscription for push events.
	Push PushChannel

	// Device identifies the robot.
	Device api.Device

	// PollInterval is the delay between poll cycles.
	// Zero means DefaultPollInterval.
	PollInterval time.Duration

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Entity is the live state model for one robot.
type Entity struct {
	executor CommandExecutor
	push     PushChannel
	device   api.Device
	logger   *slog.Logger

	// lifecycleMu serializes observer attach/detach and the activation
	// and deactivation of the push subscription and poll loop.
	lifecycleMu sync.Mutex
	sub         *subscription.Subscription
	poll        *pollLoop

	// mu guards the snapshot, the observer list, and the failure
	// counter.
	mu         sync.Mutex
	state      State
	observers  []*Observer
	nextObsID  uint64
	failures   int
}

// New creates an Entity for a device. No network activity happens until
// the first observer attaches or a command is issued.
func New(config Config) *Entity {
	interval := config.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	e := &Entity{
		executor: config.Executor,
		push:     config.Push,
		device:   config.Device,
		logger:   config.Logger,
	}
	e.poll = newPollLoop(interval, e.Refresh, config.Logger)
	return e
}

// Device returns the device this entity models.
func (e *Entity) Device() api.Device { return e.device }

// State returns an independent copy of the current snapshot.
func (e *Entity) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Attach registers an observer for field-change notifications. The
// first observer subscribes the push channel and starts the poll loop;
// if the broker connection cannot be established the registration is
// rolled back and the error returned, so the caller may retry.
func (e *Entity) Attach(ctx context.Context, handler ObserverFunc) (*Observer, error) {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	e.mu.Lock()
	e.nextObsID++
	obs := &Observer{id: e.nextObsID, handler: handler}
	e.observers = append(e.observers, obs)
	first := len(e.observers) == 1
	e.mu.Unlock()

	if first {
		sub, err := e.push.Subscribe(ctx, e.device, e.handlePushMessage)
		if err != nil {
			e.removeObserver(obs)
			return nil, err
		}
		e.sub = sub
		e.poll.start()
	}
	return obs, nil
}

// Detach removes an observer. When the last observer detaches the poll
// loop is stopped (waiting for any in-flight cycle) and the broker
// subscription released before Detach returns.
func (e *Entity) Detach(obs *Observer) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.removeObserver(obs) {
		return ErrNotSubscribed
	}

	e.mu.Lock()
	last := len(e.observers) == 0
	e.mu.Unlock()

	if last {
		e.poll.stop()
		if e.sub != nil {
			if err := e.push.Unsubscribe(e.sub); err != nil {
				e.warnLog("unsubscribe failed", "error", err)
			}
			e.sub = nil
		}
	}
	return nil
}

func (e *Entity) removeObserver(obs *Observer) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, o := range e.observers {
		if o.id == obs.id {
			e.observers = append(e.observers[:i], e.observers[i+1:]...)
			return true
		}
	}
	return false
}

// commit applies one field mutation under the snapshot lock and fans
// out a single change notification if the stored value changed.
func (e *Entity) commit(field Field, mutate func(s *State) bool) {
	e.mu.Lock()
	changed := mutate(&e.state)
	var snapshot State
	var observers []*Observer
	if changed {
		snapshot = e.state.Clone()
		observers = slices.Clone(e.observers)
	}
	e.mu.Unlock()

	if !changed {
		return
	}

	e.debugLog("state changed", "field", string(field))
	for _, obs := range observers {
		obs.handler(snapshot, field)
	}
}

// execute relays one command and feeds the result into the
// online-offline hysteresis: consecutive failures mark the robot
// offline, any success marks it online and resets the counter.
func (e *Entity) execute(ctx context.Context, command string, data any) (*api.Response, error) {
	resp, err := e.executor.Execute(ctx, e.device, command, data)
	if err != nil {
		e.recordFailure(command, err)
		return nil, err
	}
	e.recordSuccess()
	e.applyHeader(resp.Header)
	return resp, nil
}

func (e *Entity) recordFailure(command string, err error) {
	e.mu.Lock()
	e.failures++
	reached := e.failures >= offlineThreshold
	e.mu.Unlock()

	e.warnLog("command failed", "command", command, "error", err)
	if reached {
		e.commit(FieldIsOnline, func(s *State) bool { return assign(&s.IsOnline, false) })
	}
}

func (e *Entity) recordSuccess() {
	e.mu.Lock()
	e.failures = 0
	e.mu.Unlock()
	e.commit(FieldIsOnline, func(s *State) bool { return assign(&s.IsOnline, true) })
}

// applyHeader records firmware/hardware versions echoed in a command
// reply header.
func (e *Entity) applyHeader(header api.ResponseHeader) {
	if header.FwVersion != "" {
		e.commit(FieldFwVersion, func(s *State) bool { return assign(&s.FwVersion, header.FwVersion) })
	}
	if header.HwVersion != "" {
		e.commit(FieldHwVersion, func(s *State) bool { return assign(&s.HwVersion, header.HwVersion) })
	}
}

// Refresh runs one full poll cycle, feeding every reply through the
// reconciler. Individual command failures are logged and counted;
// they never abort the remaining commands.
func (e *Entity) Refresh(ctx context.Context) {
	requests := []struct {
		command string
		params  any
	}{
		{"getInfo", []string{
			"getWaterInfo",
			"getChargeState",
			"getBattery",
			"getStats",
			"getCleanInfo_V2",
			"getSpeed",
			"getCleanCount",
			"getTotalStats",
			"getTrueDetect",
			"getCleanPreference",
			"getError",
		}},
		{"getLifeSpan", []string{"sideBrush", "brush", "heap", "unitCare"}},
	}

	for _, req := range requests {
		resp, err := e.execute(ctx, req.command, req.params)
		if err != nil {
			continue
		}
		e.apply(sourcePoll, req.command, resp.Body.Data)
	}
}

// handlePushMessage feeds one broker event into the reconciler. It runs
// on the broker receive path.
func (e *Entity) handlePushMessage(command string, body []byte) {
	data, ok := decodeBody(body)
	if !ok {
		e.warnLog("dropping push event with malformed body", "command", command)
		return
	}
	e.apply(sourcePush, command, data)
}

// Command surface. Each method relays one command; failures are
// returned to the caller as *api.Error (or a transport error).

// Clean starts a full auto clean.
func (e *Entity) Clean(ctx context.Context) error {
	return e.executeCleanAction(ctx, "start", "auto", "")
}

// CleanAreas starts a spot-area clean of the given area ids.
func (e *Entity) CleanAreas(ctx context.Context, areas []int) error {
	parts := make([]string, len(areas))
	for i, a := range areas {
		parts[i] = strconv.Itoa(a)
	}
	return e.executeCleanAction(ctx, "start", "spotArea", strings.Join(parts, ","))
}

// CleanCustom starts a custom-area clean. customArea is the raw
// coordinate string the device expects.
func (e *Entity) CleanCustom(ctx context.Context, customArea string) error {
	return e.executeCleanAction(ctx, "start", "customArea", customArea)
}

// Stop stops the current clean.
func (e *Entity) Stop(ctx context.Context) error {
	return e.executeCleanAction(ctx, "stop", "", "")
}

// Pause pauses the current clean.
func (e *Entity) Pause(ctx context.Context) error {
	_, err := e.execute(ctx, "clean_V2", map[string]any{"act": "pause"})
	return err
}

// Resume resumes a paused clean.
func (e *Entity) Resume(ctx context.Context) error {
	_, err := e.execute(ctx, "clean_V2", map[string]any{"act": "resume"})
	return err
}

func (e *Entity) executeCleanAction(ctx context.Context, act, cleanType, value string) error {
	_, err := e.execute(ctx, "clean_V2", map[string]any{
		"act": act,
		"content": map[string]any{
			"count":      "",
			"donotClean": "",
			"type":       cleanType,
			"value":      value,
		},
		"mode":   "",
		"router": "plan",
	})
	return err
}

// ReturnToCharge sends the robot back to its dock.
func (e *Entity) ReturnToCharge(ctx context.Context) error {
	_, err := e.execute(ctx, "charge", map[string]any{"act": "go"})
	return err
}

// Relocate triggers manual relocation.
func (e *Entity) Relocate(ctx context.Context) error {
	_, err := e.execute(ctx, "setRelocationState", map[string]any{"mode": "manu"})
	return err
}

// PlaySound plays a sound on the robot. Sound 30 is the locator beep.
func (e *Entity) PlaySound(ctx context.Context, soundID int) error {
	_, err := e.execute(ctx, "playSound", map[string]any{"count": 1, "sid": soundID})
	return err
}

// SetWaterLevel sets the mop water flow level.
func (e *Entity) SetWaterLevel(ctx context.Context, level WaterFlow) error {
	amount, ok := waterFlowToWire[level]
	if !ok {
		return fmt.Errorf("entity: unknown water flow level %d", level)
	}
	_, err := e.execute(ctx, "setWaterInfo", map[string]any{"amount": amount})
	return err
}

// SetVacuumSpeed sets the suction level.
func (e *Entity) SetVacuumSpeed(ctx context.Context, speed Speed) error {
	wire, ok := speedToWire[speed]
	if !ok {
		return fmt.Errorf("entity: unknown vacuum speed %d", speed)
	}
	_, err := e.execute(ctx, "setSpeed", map[string]any{"speed": wire})
	return err
}

// SetTrueDetect enables or disables TrueDetect obstacle avoidance.
func (e *Entity) SetTrueDetect(ctx context.Context, enabled bool) error {
	_, err := e.execute(ctx, "setTrueDetect", map[string]any{"enable": boolToInt(enabled)})
	return err
}

// SetCleanPreference enables or disables the cleaning preference mode.
func (e *Entity) SetCleanPreference(ctx context.Context, enabled bool) error {
	_, err := e.execute(ctx, "setCleanPreference", map[string]any{"enable": boolToInt(enabled)})
	return err
}

// SetAutoBoostSuction enables or disables carpet auto-boost suction.
func (e *Entity) SetAutoBoostSuction(ctx context.Context, enabled bool) error {
	_, err := e.execute(ctx, "setCarpertPressure", map[string]any{"enable": boolToInt(enabled)})
	return err
}

// SetAutoEmpty enables or disables dustbin auto-empty.
func (e *Entity) SetAutoEmpty(ctx context.Context, enabled bool) error {
	_, err := e.execute(ctx, "setAutoEmpty", map[string]any{"enable": boolToInt(enabled)})
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (e *Entity) debugLog(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

func (e *Entity) warnLog(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}
