package infrastructure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"disparador/internal/entities"
	"disparador/internal/interfaces"
)

const (
	defaultBackoffBase    = 2 * time.Second
	defaultBackoffCeiling = 60 * time.Second
	defaultMaxRestarts    = 5
)

// CreateResult is what Create reports back to the caller: the current state
// and, while pairing, the QR payload to scan.
type CreateResult struct {
	State entities.InstanceState `json:"state"`
	QR    string                 `json:"qr,omitempty"`
}

// InstanceManager owns the registry of live instances and their lifecycle.
// Operations on the same instance name are serialized by a per-name lock;
// the registry map has its own short-lived lock so unrelated names never
// block each other.
type InstanceManager struct {
	transport interfaces.Transport
	log       *zap.Logger

	mu        sync.RWMutex
	instances map[string]*managedInstance
	locks     map[string]*sync.Mutex
	restarts  map[string]int

	// Restart-required recovery policy. Overridable before use.
	BackoffBase     time.Duration
	BackoffCeiling  time.Duration
	MaxAutoRestarts int

	// RestartDelayFn computes the auto-recreate delay for a given attempt.
	// Defaults to exponential backoff with jitter.
	RestartDelayFn func(attempt int) time.Duration
}

func NewInstanceManager(transport interfaces.Transport, log *zap.Logger) *InstanceManager {
	m := &InstanceManager{
		transport:       transport,
		log:             log,
		instances:       make(map[string]*managedInstance),
		locks:           make(map[string]*sync.Mutex),
		restarts:        make(map[string]int),
		BackoffBase:     defaultBackoffBase,
		BackoffCeiling:  defaultBackoffCeiling,
		MaxAutoRestarts: defaultMaxRestarts,
	}
	m.RestartDelayFn = func(attempt int) time.Duration {
		return backoffDelay(m.BackoffBase, m.BackoffCeiling, attempt)
	}
	return m
}

// keyLock returns the serialization lock for one instance name.
func (m *InstanceManager) keyLock(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, ok := m.locks[name]
	if !ok {
		lk = &sync.Mutex{}
		m.locks[name] = lk
	}
	return lk
}

// Get returns the live instance for a name, if present.
func (m *InstanceManager) Get(name string) (interfaces.InstanceHandle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[name]
	if !ok {
		return nil, false
	}
	return inst, true
}

// List returns snapshots of all live instances.
func (m *InstanceManager) List() []entities.InstanceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]entities.InstanceInfo, 0, len(m.instances))
	for _, inst := range m.instances {
		infos = append(infos, inst.info())
	}
	return infos
}

// Info returns the public snapshot for one instance.
func (m *InstanceManager) Info(name string) (entities.InstanceInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[name]
	if !ok {
		return entities.InstanceInfo{}, false
	}
	return inst.info(), true
}

// CountByTenant returns how many live instances a tenant owns.
func (m *InstanceManager) CountByTenant(tenantID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, inst := range m.instances {
		if inst.tenantID == tenantID {
			n++
		}
	}
	return n
}

// Create connects an instance for (tenantID, name). If one already exists and
// is connected it returns immediately; if it is still pairing with a valid QR
// the QR is returned again; otherwise the stale entry is torn down and a
// fresh transport session is dialed.
func (m *InstanceManager) Create(ctx context.Context, tenantID, name string) (*CreateResult, error) {
	lk := m.keyLock(name)
	lk.Lock()
	defer lk.Unlock()

	if inst, ok := m.lookup(name); ok {
		state, qr := inst.snapshot()
		switch {
		case state == entities.StateConnected:
			return &CreateResult{State: entities.StateConnected}, nil
		case state == entities.StateQRPending && qr != "":
			return &CreateResult{State: entities.StateQRPending, QR: qr}, nil
		}
		// connecting or disconnected: tear down and retry fresh
		inst.closeSession()
		m.drop(name, inst)
	}

	sess, events, err := m.transport.Dial(ctx, tenantID, name)
	if err != nil {
		return nil, fmt.Errorf("dial instance %s: %w", name, err)
	}

	inst := &managedInstance{
		name:      name,
		tenantID:  tenantID,
		state:     entities.StateConnecting,
		createdAt: time.Now(),
		session:   sess,
	}
	m.mu.Lock()
	m.instances[name] = inst
	m.mu.Unlock()

	go m.watch(inst, events)

	m.log.Info("instance created", zap.String("instance", name), zap.String("tenant", tenantID))
	return &CreateResult{State: entities.StateConnecting}, nil
}

// Disconnect closes an instance and removes it from the registry.
// Credentials stay on disk, so the next Create reuses the pairing.
func (m *InstanceManager) Disconnect(name string) bool {
	lk := m.keyLock(name)
	lk.Lock()
	defer lk.Unlock()

	inst, ok := m.lookup(name)
	if !ok {
		return false
	}
	inst.closeSession()
	m.drop(name, inst)
	return true
}

// Remove is Disconnect; the registry entry goes away but credentials remain.
func (m *InstanceManager) Remove(tenantID, name string) bool {
	return m.Disconnect(name)
}

// Logout terminates the session and erases the tenant's persisted credential
// material for this instance, so the next Create requires a fresh QR scan.
// Missing instances are handled gracefully; credentials are erased either way.
func (m *InstanceManager) Logout(ctx context.Context, tenantID, name string) error {
	lk := m.keyLock(name)
	lk.Lock()

	if inst, ok := m.lookup(name); ok {
		if err := inst.session.Logout(ctx); err != nil {
			m.log.Warn("logout failed, continuing teardown", zap.String("instance", name), zap.Error(err))
		}
		inst.closeSession()
		m.drop(name, inst)
	}
	lk.Unlock()

	if err := m.transport.EraseCredentials(tenantID, name); err != nil {
		return fmt.Errorf("erase credentials for %s: %w", name, err)
	}
	return nil
}

// Shutdown closes every live instance. For graceful process exit.
func (m *InstanceManager) Shutdown() {
	m.mu.Lock()
	insts := m.instances
	m.instances = make(map[string]*managedInstance)
	m.mu.Unlock()

	for _, inst := range insts {
		inst.closeSession()
	}
}

func (m *InstanceManager) lookup(name string) (*managedInstance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[name]
	return inst, ok
}

// drop removes the entry only if it is still the same instance, so a watcher
// of an already-replaced session cannot evict its successor.
func (m *InstanceManager) drop(name string, inst *managedInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.instances[name]; ok && cur == inst {
		delete(m.instances, name)
	}
}

// watch is the per-session event loop. It is the only writer of state
// transitions for its instance.
func (m *InstanceManager) watch(inst *managedInstance, events <-chan entities.ConnectionEvent) {
	for evt := range events {
		switch evt.State {
		case entities.ConnConnecting:
			if evt.QR != "" {
				inst.setQR(evt.QR)
				m.log.Info("qr generated", zap.String("instance", inst.name))
			}
		case entities.ConnOpen:
			inst.setConnected()
			m.resetRestarts(inst.name)
			m.log.Info("instance connected", zap.String("instance", inst.name))
		case entities.ConnClose:
			inst.setDisconnected()
			m.handleClose(inst, evt.CloseCode)
			return
		}
	}
}

func (m *InstanceManager) handleClose(inst *managedInstance, code int) {
	lk := m.keyLock(inst.name)
	lk.Lock()
	inst.closeSession()
	m.drop(inst.name, inst)
	lk.Unlock()

	switch code {
	case entities.CloseLoggedOut, entities.CloseReplaced:
		// Terminal: no recreation.
		m.log.Info("instance closed for good", zap.String("instance", inst.name), zap.Int("code", code))

	case entities.CloseRestartRequired:
		attempt := m.nextRestart(inst.name)
		if attempt > m.MaxAutoRestarts {
			m.log.Warn("auto-restart cap reached, giving up",
				zap.String("instance", inst.name), zap.Int("attempts", attempt-1))
			return
		}
		delay := m.RestartDelayFn(attempt - 1)
		m.log.Info("restart required, recreating",
			zap.String("instance", inst.name), zap.Int("attempt", attempt), zap.Duration("delay", delay))
		tenantID, name := inst.tenantID, inst.name
		time.AfterFunc(delay, func() {
			if _, err := m.Create(context.Background(), tenantID, name); err != nil {
				m.log.Error("auto-recreate failed", zap.String("instance", name), zap.Error(err))
			}
		})

	default:
		// The caller decides whether to re-create; a quota or limit check
		// may be pending on their side.
		m.log.Info("instance disconnected", zap.String("instance", inst.name), zap.Int("code", code))
	}
}

func (m *InstanceManager) nextRestart(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts[name]++
	return m.restarts[name]
}

func (m *InstanceManager) resetRestarts(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.restarts, name)
}

// managedInstance is one registry entry. Owned exclusively by the manager;
// other components only see it as an interfaces.InstanceHandle.
type managedInstance struct {
	name      string
	tenantID  string
	createdAt time.Time
	session   interfaces.TransportSession

	stateMu sync.RWMutex
	state   entities.InstanceState
	qr      string
}

func (i *managedInstance) TenantID() string { return i.tenantID }

func (i *managedInstance) State() entities.InstanceState {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	return i.state
}

func (i *managedInstance) Session() interfaces.TransportSession { return i.session }

func (i *managedInstance) snapshot() (entities.InstanceState, string) {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	return i.state, i.qr
}

func (i *managedInstance) info() entities.InstanceInfo {
	state, qr := i.snapshot()
	return entities.InstanceInfo{
		Name:      i.name,
		TenantID:  i.tenantID,
		State:     state,
		QR:        qr,
		CreatedAt: i.createdAt,
	}
}

func (i *managedInstance) setQR(qr string) {
	i.stateMu.Lock()
	defer i.stateMu.Unlock()
	i.state = entities.StateQRPending
	i.qr = qr
}

func (i *managedInstance) setConnected() {
	i.stateMu.Lock()
	defer i.stateMu.Unlock()
	i.state = entities.StateConnected
	i.qr = ""
}

func (i *managedInstance) setDisconnected() {
	i.stateMu.Lock()
	defer i.stateMu.Unlock()
	i.state = entities.StateDisconnected
	i.qr = ""
}

func (i *managedInstance) closeSession() {
	i.session.Close()
}
