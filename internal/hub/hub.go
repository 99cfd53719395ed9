package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/devilrob/felshare-cloud/internal/cloud"
	"github.com/devilrob/felshare-cloud/internal/device"
	"github.com/devilrob/felshare-cloud/internal/hvacsync"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/config"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/logging"
	"github.com/devilrob/felshare-cloud/internal/outbox"
	"github.com/devilrob/felshare-cloud/internal/poll"
	"github.com/devilrob/felshare-cloud/internal/store"
)

// Outbox dedup keys, one per device property.
const (
	keyPower       = "power"
	keyFan         = "fan"
	keyOilName     = "oil_name"
	keyConsumption = "consumption"
	keyCapacity    = "capacity"
	keyRemaining   = "remaining"
	keySchedule    = "schedule"
	keyStatusReq   = "status_request"
	keyBulkReq     = "bulk_request"
)

// learnWindow is how close behind an observed app request a status frame
// must follow for the request to be adopted as the status template.
const learnWindow = 2 * time.Second

// evalInterval drives periodic HVAC re-evaluation so schedule window
// edges take effect without waiting for a thermostat event.
const evalInterval = time.Minute

// persistInterval paces timestamp writes to the store.
const persistInterval = 30 * time.Second

// Publisher sends a raw payload to the device's command topic. It must
// be safe to call from any goroutine and fail fast when disconnected.
type Publisher interface {
	Publish(payload []byte) error
}

// Telemetry records state samples. Implementations must not block.
type Telemetry interface {
	WriteState(s device.State)
}

// Deps carries the hub's collaborators.
type Deps struct {
	Store     *store.Store
	Publisher Publisher
	Telemetry Telemetry // optional

	// ConnStatus exposes the connection manager's diagnostics.
	ConnStatus func() cloud.Status

	// OnStateChange is invoked with a state snapshot after every device
	// frame that changed the mirror. Optional; must not block.
	OnStateChange func(s device.State)
}

// Hub owns the device mirror and serializes every mutation.
type Hub struct {
	cfg      config.Config
	logger   *logging.Logger
	deviceID string

	deps     Deps
	state    *device.State
	governor *poll.Governor
	box      *outbox.Outbox
	engine   *hvacsync.Engine

	tasks   chan func()
	stopped chan struct{}

	connected       bool
	lastError       string
	templateLearned bool
	statusTemplate  []byte
	tsDirty         bool

	// learnCandidate is app traffic that may become the status template
	// if the device answers it promptly.
	learnCandidate   []byte
	learnCandidateAt time.Time
	lastPublished    []byte
}

// New creates a Hub. Persisted timestamps and any learned template are
// loaded up front so throttling and refresh survive a restart.
func New(ctx context.Context, cfg config.Config, deps Deps, logger *logging.Logger) (*Hub, error) {
	h := &Hub{
		cfg:      cfg,
		logger:   logger.With("component", "hub"),
		deviceID: cfg.Cloud.DeviceID,
		deps:     deps,
		state:    &device.State{DeviceID: cfg.Cloud.DeviceID},
		box:      outbox.New(cfg.Throttle.MinPublishInterval(), cfg.Throttle.MaxBurstMessages),
		tasks:    make(chan func(), 64),
		stopped:  make(chan struct{}),
	}

	ts, err := deps.Store.LoadTimestamps(ctx, h.deviceID)
	if err != nil && !errors.Is(err, store.ErrTimestampsNotFound) {
		return nil, err
	}
	h.governor = poll.NewGovernor(
		cfg.Throttle.StatusMinInterval(),
		cfg.Throttle.BulkInterval(),
		cfg.Throttle.StaleThreshold(),
		ts,
	)

	if tpl, err := deps.Store.LoadTemplate(ctx, h.deviceID, store.TemplateStatusRequest); err == nil {
		h.statusTemplate = tpl.Payload
		h.templateLearned = true
	}

	var snap *store.Snapshot
	if s, err := deps.Store.LoadSnapshot(ctx, h.deviceID); err == nil {
		snap = &s
	}
	h.engine = hvacsync.New(hvacsync.Options{
		Mode:     hvacsync.ParseAirflowMode(cfg.HVACSync.AirflowMode),
		OnDelay:  cfg.HVACSync.OnDelay(),
		OffDelay: cfg.HVACSync.OffDelay(),
		Snapshot: snap,
	}, &engineSink{h}, &snapshotKeeper{h}, &transitionTimer{h}, logger)

	return h, nil
}

// SetPublisher installs the outbound publisher. The connector needs the
// hub's handlers to exist before it can be built, so main wires the
// publisher in a second step. Must be called before Run.
func (h *Hub) SetPublisher(p Publisher) {
	h.deps.Publisher = p
}

// Run drives the event loop until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	dispatch := time.NewTicker(h.cfg.Throttle.DispatchTick())
	defer dispatch.Stop()
	eval := time.NewTicker(evalInterval)
	defer eval.Stop()
	persist := time.NewTicker(persistInterval)
	defer persist.Stop()

	h.logger.Info("event loop started", "device_id", h.deviceID)
	for {
		select {
		case <-ctx.Done():
			close(h.stopped)
			h.persistTimestamps()
			h.logger.Info("event loop stopped")
			return

		case fn := <-h.tasks:
			fn()

		case <-dispatch.C:
			h.dispatch(time.Now())

		case <-eval.C:
			h.engine.Evaluate(time.Now(), h.state, h.connected)

		case <-persist.C:
			if h.tsDirty {
				h.tsDirty = false
				h.persistTimestamps()
			}
		}
	}
}

// do runs fn on the event loop and waits for it to finish.
func (h *Hub) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		fn()
		close(done)
	}
	select {
	case h.tasks <- task:
	case <-h.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-h.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post runs fn on the event loop without waiting. Used by callbacks that
// must never block transport goroutines.
func (h *Hub) post(fn func()) {
	select {
	case h.tasks <- fn:
	case <-h.stopped:
	}
}

// HandleConnected is wired to the connection manager. Per the no-spam
// rule it does not request state unconditionally; the governor decides.
func (h *Hub) HandleConnected() {
	h.post(func() {
		now := time.Now()
		h.connected = true
		h.state.Connected = true
		h.logger.Info("device link up")
		h.refreshIfAllowed(now)
		h.engine.HandleDeviceState(now, h.state, true)
	})
}

// HandleDisconnected is wired to the connection manager.
func (h *Hub) HandleDisconnected() {
	h.post(func() {
		h.connected = false
		h.state.Connected = false
		h.logger.Info("device link down")
	})
}

// HandleDeviceFrame ingests a payload from the device's report topic.
// Safe to call from the transport goroutine.
func (h *Hub) HandleDeviceFrame(payload []byte) {
	p := append([]byte(nil), payload...)
	h.post(func() {
		now := time.Now()
		h.governor.MarkSeen(now)
		h.tsDirty = true

		changed, err := h.state.Apply(p)
		if err != nil {
			h.logger.Debug("unhandled device frame",
				"payload", device.PayloadHex(p), "error", err)
		}
		h.state.LastPayloadHex = device.PayloadHex(p)

		if len(p) > 0 && p[0] == device.OpStatus {
			h.maybeLearnTemplate(now)
		}
		if changed {
			snap := h.state.Clone()
			if h.deps.Telemetry != nil {
				h.deps.Telemetry.WriteState(snap)
			}
			if h.deps.OnStateChange != nil {
				h.deps.OnStateChange(snap)
			}
			h.engine.HandleDeviceState(now, h.state, h.connected)
		}
	})
}

// HandleAppTraffic observes the command topic for template learning: a
// request we did not send, answered by a status frame within the learn
// window, is adopted as the status-request template.
func (h *Hub) HandleAppTraffic(payload []byte) {
	if !h.cfg.Throttle.EnableTemplateLearning {
		return
	}
	p := append([]byte(nil), payload...)
	h.post(func() {
		if len(p) == 0 || device.IsSetOpcode(p[0]) {
			return
		}
		if bytes.Equal(p, h.lastPublished) {
			return
		}
		h.learnCandidate = p
		h.learnCandidateAt = time.Now()
	})
}

// HandleThermostat ingests an external thermostat report.
func (h *Hub) HandleThermostat(evt hvacsync.ThermostatEvent) {
	h.post(func() {
		h.engine.HandleThermostat(evt, time.Now(), h.state, h.connected)
	})
}

// HandleThermostatPayload decodes a raw thermostat topic message and
// feeds it to the sync engine. Malformed payloads are dropped.
func (h *Hub) HandleThermostatPayload(payload []byte) {
	var evt hvacsync.ThermostatEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Debug("unparsable thermostat payload", "error", err)
		return
	}
	if evt.State == "" {
		return
	}
	h.HandleThermostat(evt)
}

// maybeLearnTemplate promotes the pending candidate if the device just
// answered it.
func (h *Hub) maybeLearnTemplate(now time.Time) {
	if h.learnCandidate == nil || now.Sub(h.learnCandidateAt) > learnWindow {
		return
	}
	tpl := store.Template{
		CommandType: store.TemplateStatusRequest,
		Payload:     h.learnCandidate,
		LearnedAt:   now,
	}
	h.statusTemplate = tpl.Payload
	h.templateLearned = true
	h.learnCandidate = nil
	h.logger.Info("status request template learned",
		"payload", device.PayloadHex(tpl.Payload))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.deps.Store.SaveTemplate(ctx, h.deviceID, tpl); err != nil {
			h.logger.Error("persist template failed", "error", err)
		}
	}()
}

// refreshIfAllowed runs the governor-gated status and bulk requests.
func (h *Hub) refreshIfAllowed(now time.Time) (status, bulk bool) {
	if h.governor.AllowStatus(now) {
		h.box.Enqueue(keyStatusReq, h.statusRequestPayload(), now)
		status = true
	}
	if h.governor.AllowBulk(now) {
		h.box.Enqueue(keyBulkReq, device.EncodeBulkRequest(), now)
		bulk = true
	}
	if status || bulk {
		h.tsDirty = true
	}
	return status, bulk
}

// statusRequestPayload prefers the learned template over the default
// opcode; some firmwares only answer the app's own request shape.
func (h *Hub) statusRequestPayload() []byte {
	if h.templateLearned {
		return h.statusTemplate
	}
	return device.EncodeStatusRequest()
}

// dispatch pops the outbox when the rate limiter allows and publishes
// off-loop. A failed publish is logged and dropped, never retried: with
// QoS0 a timed-out publish may still have reached the device, and a
// blind resend risks duplicate side effects. The caller can re-enqueue.
func (h *Hub) dispatch(now time.Time) {
	if !h.connected || h.deps.Publisher == nil {
		return
	}
	cmd, ok := h.box.Next(now)
	if !ok {
		return
	}
	h.governor.MarkPublish(now)
	h.tsDirty = true
	h.lastPublished = cmd.Payload

	go func() {
		err := h.deps.Publisher.Publish(cmd.Payload)
		h.post(func() {
			if err != nil {
				h.lastError = err.Error()
				h.logger.Warn("publish failed, command dropped",
					"key", cmd.Key, "error", err)
				return
			}
			h.logger.Debug("published", "key", cmd.Key,
				"payload", device.PayloadHex(cmd.Payload))
		})
	}()
}

// persistTimestamps writes the governor's timestamps off-loop.
func (h *Hub) persistTimestamps() {
	ts := h.governor.Timestamps()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.deps.Store.SaveTimestamps(ctx, h.deviceID, ts); err != nil {
			h.logger.Error("persist timestamps failed", "error", err)
		}
	}()
}
