// Package adapter is the adapter manager of SPEC_FULL.md §4.7: a
// persisted config store plus a live registry of channel-adapter
// instances (webhook, telegram), their lifecycle, and their status.
// Modeled on the teacher's agent.Run() lifecycle (Init -> run loop ->
// Cleanup under context cancellation) generalized from an OS-process
// agent to a manager-owned goroutine, and on the capability-registry
// idiom of code/agents/adapter for the type catalog.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/relaybus/relay/internal/delivery"
	"github.com/relaybus/relay/internal/envelope"
	"github.com/relaybus/relay/internal/relayerr"
	"github.com/relaybus/relay/internal/store"
	"github.com/relaybus/relay/internal/subs"
)

// State is an adapter instance's live connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateStarting     State = "starting"
	StateConnected    State = "connected"
	StateError        State = "error"
	StateStopping     State = "stopping"
)

// ConfigRecord is a persisted adapter instance configuration
// (SPEC_FULL.md §3).
type ConfigRecord struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Enabled   bool                   `json:"enabled"`
	Config    map[string]interface{} `json:"config"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// MessageCounts tracks an instance's inbound/outbound traffic.
type MessageCounts struct {
	Inbound  int64 `json:"inbound"`
	Outbound int64 `json:"outbound"`
}

// Status is the live view of one adapter instance.
type Status struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	DisplayName   string        `json:"displayName"`
	State         State         `json:"state"`
	MessageCounts MessageCounts `json:"messageCount"`
	ErrorCount    int64         `json:"errorCount"`
	LastError     string        `json:"lastError,omitempty"`
}

// CatalogEntry is one adapter type's manifest plus its configured
// instances, as returned by getCatalog().
type CatalogEntry struct {
	Manifest  Manifest           `json:"manifest"`
	Instances []InstanceSummary  `json:"instances"`
}

// InstanceSummary is the minimal per-instance view inside a catalog entry.
type InstanceSummary struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
	Status  State  `json:"status"`
}

// publisher is the narrow capability the manager needs from the delivery
// engine to push inbound adapter traffic onto the bus.
type publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}, opts delivery.PublishOptions) (delivery.Result, error)
}

// factory builds an adapter instance for a given config.
type factory func(config map[string]interface{}) (adapterInstance, error)

// adapterInstance is the minimal shape every adapter type must satisfy;
// richer behavior is opted into via the marker interfaces below rather
// than duck-typed reflection (SPEC_FULL.md §9).
type adapterInstance interface{}

type starter interface {
	start(ctx context.Context, pub publisher, subject string) error
}

type stopper interface {
	stop() error
}

type prober interface {
	probe() error
}

type inboundHandler interface {
	handleInbound(raw []byte, headers map[string][]string) (payload json.RawMessage, err error)
}

// sender is the outbound half of an adapter's duplex role (SPEC_FULL.md
// §2/§4.7): an instance implementing it is subscribed to its manifest's
// outbound subject and gets every matching envelope's payload pushed to
// the external channel.
type sender interface {
	send(payload json.RawMessage) error
}

type instance struct {
	mu                  sync.Mutex
	record              ConfigRecord
	status              Status
	impl                adapterInstance
	cancel              context.CancelFunc
	unsubscribeOutbound func()
}

// Manager is the adapter manager: catalog, lifecycle, bindings.
type Manager struct {
	db        *store.Store
	pub       publisher
	bus       *subs.Bus
	manifests map[string]Manifest
	factories map[string]factory

	mu        sync.RWMutex
	instances map[string]*instance
}

func New(db *store.Store, pub publisher, bus *subs.Bus) *Manager {
	m := &Manager{
		db:        db,
		pub:       pub,
		bus:       bus,
		manifests: builtinManifests(),
		factories: map[string]factory{
			"webhook":  newWebhookAdapter,
			"telegram": newTelegramAdapter,
		},
		instances: make(map[string]*instance),
	}
	return m
}

// AdapterView pairs a persisted config with its live status, the shape
// GET /adapters returns.
type AdapterView struct {
	Config ConfigRecord `json:"config"`
	Status Status       `json:"status"`
}

// List returns every configured instance's config and live status.
func (m *Manager) List() []AdapterView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AdapterView, 0, len(m.instances))
	for _, inst := range m.instances {
		inst.mu.Lock()
		out = append(out, AdapterView{Config: inst.record, Status: inst.status})
		inst.mu.Unlock()
	}
	return out
}

// Reload re-reads every persisted adapter config and brings up any
// instance not already live in memory, starting it if its record is
// enabled. Used by POST /adapters/reload to pick up configuration
// written outside the running process.
func (m *Manager) Reload(ctx context.Context) error {
	rows, err := m.db.Scan([]byte(store.AdapterConfigPrefix), store.ScanOptions{})
	if err != nil {
		return relayerr.Wrap(relayerr.StorageError, "scan adapter configs", err)
	}
	for _, row := range rows {
		var record ConfigRecord
		if err := json.Unmarshal(row.Value, &record); err != nil {
			continue
		}

		m.mu.RLock()
		_, exists := m.instances[record.ID]
		m.mu.RUnlock()
		if exists {
			continue
		}

		manifest, ok := m.manifests[record.Type]
		if !ok {
			continue
		}
		factory, ok := m.factories[record.Type]
		if !ok {
			continue
		}
		impl, err := factory(record.Config)
		if err != nil {
			continue
		}

		inst := &instance{
			record: record,
			status: Status{ID: record.ID, Type: record.Type, DisplayName: manifest.DisplayName, State: StateDisconnected},
			impl:   impl,
		}
		m.mu.Lock()
		m.instances[record.ID] = inst
		m.mu.Unlock()

		if record.Enabled {
			_ = m.start(ctx, inst, manifest)
		}
	}
	return nil
}

// GetCatalog returns the union of built-in manifests and configured
// instances, grouped by type.
func (m *Manager) GetCatalog() []CatalogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[string][]InstanceSummary)
	for _, inst := range m.instances {
		byType[inst.record.Type] = append(byType[inst.record.Type], InstanceSummary{
			ID:      inst.record.ID,
			Enabled: inst.record.Enabled,
			Status:  inst.status.State,
		})
	}

	var catalog []CatalogEntry
	for _, manifest := range m.manifests {
		catalog = append(catalog, CatalogEntry{Manifest: manifest, Instances: byType[manifest.Type]})
	}
	return catalog
}

// Add validates config against the type's manifest and registers a new
// instance, starting it immediately if enabled.
func (m *Manager) Add(ctx context.Context, typ, id string, config map[string]interface{}, enabled bool) (*Status, error) {
	manifest, ok := m.manifests[typ]
	if !ok {
		return nil, relayerr.New(relayerr.UnknownType, "unknown adapter type: "+typ)
	}

	m.mu.Lock()
	if _, exists := m.instances[id]; exists {
		m.mu.Unlock()
		return nil, relayerr.New(relayerr.DuplicateID, "adapter id already in use: "+id)
	}
	if !manifest.MultiInstance {
		for _, inst := range m.instances {
			if inst.record.Type == typ {
				m.mu.Unlock()
				return nil, relayerr.New(relayerr.MultiInstanceDenied, "adapter type does not support multiple instances: "+typ)
			}
		}
	}
	m.mu.Unlock()

	if err := validateConfig(manifest, config); err != nil {
		return nil, err
	}

	factory, ok := m.factories[typ]
	if !ok {
		return nil, relayerr.New(relayerr.UnknownType, "no factory registered for adapter type: "+typ)
	}
	impl, err := factory(config)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.ConfigInvalid, "construct adapter", err)
	}

	record := ConfigRecord{ID: id, Type: typ, Enabled: enabled, Config: config, UpdatedAt: time.Now().UTC()}
	inst := &instance{
		record: record,
		status: Status{ID: id, Type: typ, DisplayName: manifest.DisplayName, State: StateDisconnected},
		impl:   impl,
	}

	m.mu.Lock()
	m.instances[id] = inst
	m.mu.Unlock()

	if err := m.persist(record); err != nil {
		return nil, err
	}

	if enabled {
		if err := m.start(ctx, inst, manifest); err != nil {
			return nil, err
		}
	}

	return m.statusCopy(inst), nil
}

// Remove deletes an instance, refusing built-in, undeletable types.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return relayerr.New(relayerr.NotFound, "adapter not found: "+id)
	}
	manifest := m.manifests[inst.record.Type]
	if manifest.Builtin {
		m.mu.Unlock()
		return relayerr.New(relayerr.RemoveBuiltinDenied, "cannot remove built-in adapter type: "+inst.record.Type)
	}
	delete(m.instances, id)
	m.mu.Unlock()

	if s, ok := inst.impl.(stopper); ok {
		_ = s.stop()
	}
	m.stopOutbound(inst)
	return m.db.Delete(store.AdapterConfigKey(id))
}

// UpdateConfig atomically stops, revalidates, persists, and (if enabled)
// restarts an instance.
func (m *Manager) UpdateConfig(ctx context.Context, id string, config map[string]interface{}) (*Status, error) {
	m.mu.RLock()
	inst, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return nil, relayerr.New(relayerr.NotFound, "adapter not found: "+id)
	}

	manifest := m.manifests[inst.record.Type]
	if err := validateConfig(manifest, config); err != nil {
		return nil, err
	}

	inst.mu.Lock()
	wasEnabled := inst.record.Enabled
	if s, ok := inst.impl.(stopper); ok && inst.status.State != StateDisconnected {
		_ = s.stop()
	}
	if inst.cancel != nil {
		inst.cancel()
		inst.cancel = nil
	}
	inst.mu.Unlock()
	m.stopOutbound(inst)
	inst.mu.Lock()
	factory := m.factories[inst.record.Type]
	impl, err := factory(config)
	if err != nil {
		inst.mu.Unlock()
		return nil, relayerr.Wrap(relayerr.ConfigInvalid, "construct adapter", err)
	}
	inst.impl = impl
	inst.record.Config = config
	inst.record.UpdatedAt = time.Now().UTC()
	inst.status.State = StateDisconnected
	record := inst.record
	inst.mu.Unlock()

	if err := m.persist(record); err != nil {
		return nil, err
	}
	if wasEnabled {
		if err := m.start(ctx, inst, manifest); err != nil {
			return nil, err
		}
	}
	return m.statusCopy(inst), nil
}

// Enable starts a disabled instance. Idempotent.
func (m *Manager) Enable(ctx context.Context, id string) (*Status, error) {
	inst, manifest, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	inst.mu.Lock()
	alreadyEnabled := inst.record.Enabled
	inst.record.Enabled = true
	record := inst.record
	inst.mu.Unlock()

	if err := m.persist(record); err != nil {
		return nil, err
	}
	if !alreadyEnabled {
		if err := m.start(ctx, inst, manifest); err != nil {
			return nil, err
		}
	}
	return m.statusCopy(inst), nil
}

// Disable stops an enabled instance. Idempotent.
func (m *Manager) Disable(id string) (*Status, error) {
	inst, _, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	inst.mu.Lock()
	inst.record.Enabled = false
	record := inst.record
	if s, ok := inst.impl.(stopper); ok && inst.status.State != StateDisconnected {
		inst.status.State = StateStopping
		_ = s.stop()
	}
	if inst.cancel != nil {
		inst.cancel()
		inst.cancel = nil
	}
	inst.status.State = StateDisconnected
	inst.mu.Unlock()
	m.stopOutbound(inst)

	if err := m.persist(record); err != nil {
		return nil, err
	}
	return m.statusCopy(inst), nil
}

// TestConnection exercises a type's probe without persisting anything.
func (m *Manager) TestConnection(typ string, config map[string]interface{}) error {
	manifest, ok := m.manifests[typ]
	if !ok {
		return relayerr.New(relayerr.UnknownType, "unknown adapter type: "+typ)
	}
	if err := validateConfig(manifest, config); err != nil {
		return err
	}
	factory, ok := m.factories[typ]
	if !ok {
		return relayerr.New(relayerr.UnknownType, "no factory registered for adapter type: "+typ)
	}
	impl, err := factory(config)
	if err != nil {
		return relayerr.Wrap(relayerr.ConfigInvalid, "construct adapter", err)
	}
	if p, ok := impl.(prober); ok {
		return p.probe()
	}
	return nil
}

// Status returns the live status of an instance.
func (m *Manager) Status(id string) (*Status, error) {
	inst, _, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return m.statusCopy(inst), nil
}

// HandleInbound dispatches raw adapter input (e.g. a webhook POST body)
// to the instance's inboundHandler, then publishes the result.
func (m *Manager) HandleInbound(ctx context.Context, id string, raw []byte, headers map[string][]string) (*delivery.Result, error) {
	inst, manifest, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	handler, ok := inst.impl.(inboundHandler)
	if !ok {
		return nil, relayerr.New(relayerr.ConfigInvalid, "adapter does not accept inbound traffic: "+id)
	}
	payload, err := handler.handleInbound(raw, headers)
	if err != nil {
		inst.mu.Lock()
		inst.status.ErrorCount++
		inst.status.LastError = err.Error()
		inst.mu.Unlock()
		return nil, err
	}

	subject := manifest.Subjects.Inbound
	inst.mu.Lock()
	if s, ok := inst.record.Config["inboundSubject"].(string); ok && s != "" {
		subject = s
	}
	inst.mu.Unlock()
	res, err := m.pub.Publish(ctx, subject, payload, delivery.PublishOptions{From: "relay.adapter." + inst.record.Type})
	if err != nil {
		return nil, err
	}
	inst.mu.Lock()
	inst.status.MessageCounts.Inbound++
	inst.mu.Unlock()
	return &res, nil
}

func (m *Manager) start(ctx context.Context, inst *instance, manifest Manifest) error {
	inst.mu.Lock()
	inst.status.State = StateStarting
	inst.mu.Unlock()

	s, ok := inst.impl.(starter)
	if !ok {
		inst.mu.Lock()
		inst.status.State = StateConnected
		inst.mu.Unlock()
		m.startOutbound(inst, manifest)
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := s.start(runCtx, m.pub, manifest.Subjects.Inbound); err != nil {
		cancel()
		inst.mu.Lock()
		inst.status.State = StateError
		inst.status.LastError = err.Error()
		inst.status.ErrorCount++
		inst.mu.Unlock()
		return relayerr.Wrap(relayerr.ConfigInvalid, "start adapter", err)
	}

	inst.mu.Lock()
	inst.cancel = cancel
	inst.status.State = StateConnected
	inst.mu.Unlock()
	m.startOutbound(inst, manifest)
	return nil
}

// startOutbound subscribes a sender-capable instance to its manifest's
// outbound subject, so envelopes published toward the adapter reach the
// external channel. A no-op when the manifest declares no outbound
// subject or the instance doesn't implement sender.
func (m *Manager) startOutbound(inst *instance, manifest Manifest) {
	if manifest.Subjects.Outbound == "" || m.bus == nil {
		return
	}
	snd, ok := inst.impl.(sender)
	if !ok {
		return
	}

	cancel, err := m.bus.Subscribe(manifest.Subjects.Outbound, func(env *envelope.Envelope) error {
		if err := snd.send(env.Payload); err != nil {
			inst.mu.Lock()
			inst.status.ErrorCount++
			inst.status.LastError = err.Error()
			inst.mu.Unlock()
			return err
		}
		inst.mu.Lock()
		inst.status.MessageCounts.Outbound++
		inst.mu.Unlock()
		return nil
	})
	if err != nil {
		return
	}
	inst.mu.Lock()
	inst.unsubscribeOutbound = cancel
	inst.mu.Unlock()
}

func (m *Manager) stopOutbound(inst *instance) {
	inst.mu.Lock()
	cancel := inst.unsubscribeOutbound
	inst.unsubscribeOutbound = nil
	inst.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) lookup(id string) (*instance, Manifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, Manifest{}, relayerr.New(relayerr.NotFound, "adapter not found: "+id)
	}
	return inst, m.manifests[inst.record.Type], nil
}

func (m *Manager) statusCopy(inst *instance) *Status {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	s := inst.status
	return &s
}

func (m *Manager) persist(record ConfigRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return relayerr.Wrap(relayerr.StorageError, "marshal adapter config", err)
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(store.AdapterConfigKey(record.ID), data)
	})
}

func validateConfig(manifest Manifest, config map[string]interface{}) error {
	for _, field := range manifest.ConfigFields {
		if field.ShowWhen != nil {
			if v, ok := config[field.ShowWhen.Field]; !ok || v != field.ShowWhen.Equals {
				continue
			}
		}
		if !field.Required {
			continue
		}
		v, ok := config[field.Key]
		if !ok || v == nil || v == "" {
			return relayerr.New(relayerr.ConfigInvalid, fmt.Sprintf("missing required field %q", field.Key))
		}
	}
	return nil
}
