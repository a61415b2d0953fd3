// Package quota manages a pool of interchangeable API credentials and the
// circuit breaker that protects an exhausted or failing backend.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/embedding"
	"DocSage/backend/go/pkg/circuitbreaker"
	"DocSage/backend/go/pkg/logger"
	"DocSage/backend/go/pkg/metrics"

	"golang.org/x/time/rate"
)

// State is the health state of one credential.
type State string

const (
	StateActive      State = "active"
	StateRateLimited State = "rate_limited"
	StateDisabled    State = "disabled"
)

// ErrNoCredentialAvailable is returned by Acquire when no credential can be
// handed out, either because the circuit is open or every credential is
// disabled or cooling down.
var ErrNoCredentialAvailable = errors.New("no credential available")

// NoCredentialError carries the reason behind ErrNoCredentialAvailable.
type NoCredentialError struct {
	CircuitOpen bool          // the circuit rejected the request
	AllDisabled bool          // every credential is permanently disabled
	RetryAfter  time.Duration // earliest moment a retry can succeed, zero if unknown
}

func (e *NoCredentialError) Error() string {
	switch {
	case e.CircuitOpen:
		return fmt.Sprintf("%v: circuit open, retry after %s", ErrNoCredentialAvailable, e.RetryAfter)
	case e.AllDisabled:
		return fmt.Sprintf("%v: all credentials disabled", ErrNoCredentialAvailable)
	default:
		return fmt.Sprintf("%v: all credentials cooling down, retry after %s", ErrNoCredentialAvailable, e.RetryAfter)
	}
}

// Is makes errors.Is(err, ErrNoCredentialAvailable) hold.
func (e *NoCredentialError) Is(target error) bool { return target == ErrNoCredentialAvailable }

// Unwrap exposes circuitbreaker.ErrCircuitOpen for circuit rejections.
func (e *NoCredentialError) Unwrap() error {
	if e.CircuitOpen {
		return circuitbreaker.ErrCircuitOpen
	}
	return nil
}

// Credential is what Acquire hands to a caller. Secret is opaque to everything
// except the embedding backend.
type Credential struct {
	ID     string
	Secret string
}

// String never reveals the secret.
func (c Credential) String() string { return c.ID }

type credential struct {
	id            string
	secret        string
	state         State
	failures      uint32
	lastUsed      time.Time
	cooldownUntil time.Time
	limiter       *rate.Limiter
}

// Options configures a Manager.
type Options struct {
	// Name labels the circuit in logs and metrics, e.g. "embedding".
	Name string
	// Cooldown is how long a credential stays rate_limited after a quota error.
	Cooldown time.Duration
	// Breaker configures the circuit. Its Now and OnStateChange are set by the Manager.
	Breaker circuitbreaker.Settings
	// RequestsPerMinute paces each credential; zero disables pacing.
	RequestsPerMinute float64
	// CredentialFailureLimit puts a credential into cool-down after this many
	// consecutive transient failures; zero keeps it active.
	CredentialFailureLimit uint32
	// Now is the clock. Defaults to time.Now.
	Now     func() time.Time
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// OptionsFromConfig maps the quota config section onto Options.
func OptionsFromConfig(name string, cfg config.QuotaConfig) Options {
	return Options{
		Name:     name,
		Cooldown: config.Duration(cfg.Cooldown, 60*time.Second),
		Breaker: circuitbreaker.Settings{
			FailureThreshold:    cfg.FailureThreshold,
			SuccessThreshold:    cfg.HalfOpenSuccesses,
			Timeout:             config.Duration(cfg.OpenTimeout, 60*time.Second),
			QuotaErrorThreshold: cfg.QuotaErrorThreshold,
			QuotaWindow:         config.Duration(cfg.QuotaWindow, 60*time.Second),
			HalfOpenMaxRequests: cfg.HalfOpenMaxRequests,
		},
		RequestsPerMinute:      cfg.RequestsPerMinute,
		CredentialFailureLimit: cfg.CredentialFailures,
	}
}

// Manager is the single mutation point for credential and circuit state.
// Every transition happens under mu; callers only use Acquire and Report*.
type Manager struct {
	name     string
	cooldown time.Duration
	failLim  uint32
	now      func() time.Time
	log      *logger.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	creds   []*credential
	byID    map[string]*credential
	cursor  int
	breaker *circuitbreaker.Breaker
}

// NewManager builds a pool from the given secrets. Credential IDs are
// assigned as "<name>-key-<n>" in configuration order.
func NewManager(secrets []string, opts Options) (*Manager, error) {
	if len(secrets) == 0 {
		return nil, errors.New("quota: at least one credential is required")
	}
	if opts.Name == "" {
		opts.Name = "embedding"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}

	m := &Manager{
		name:     opts.Name,
		cooldown: opts.Cooldown,
		failLim:  opts.CredentialFailureLimit,
		now:      opts.Now,
		log:      opts.Logger.Named("quota").WithField("circuit", opts.Name),
		metrics:  opts.Metrics,
		byID:     make(map[string]*credential, len(secrets)),
	}
	for i, secret := range secrets {
		c := &credential{
			id:     fmt.Sprintf("%s-key-%d", opts.Name, i+1),
			secret: secret,
			state:  StateActive,
		}
		if opts.RequestsPerMinute > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerMinute/60), 1)
		}
		m.creds = append(m.creds, c)
		m.byID[c.id] = c
	}

	settings := opts.Breaker
	settings.Now = opts.Now
	settings.OnStateChange = m.onStateChange
	m.breaker = circuitbreaker.NewBreaker(settings)

	m.metrics.SetCircuitState(m.name, int(circuitbreaker.Closed))
	m.publishLocked()
	return m, nil
}

// Acquire returns the next active credential in round-robin order.
// It fails fast with a *NoCredentialError when the circuit is open or no
// credential is active; in that case nothing is reserved.
func (m *Manager) Acquire() (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.refreshLocked(now)

	if m.breaker.State() == circuitbreaker.Open {
		return Credential{}, m.circuitOpenErrLocked(now)
	}

	idx := m.nextActiveLocked()
	if idx < 0 {
		return Credential{}, m.exhaustedErrLocked(now)
	}
	if err := m.breaker.Allow(); err != nil {
		return Credential{}, m.circuitOpenErrLocked(now)
	}

	c := m.creds[idx]
	c.lastUsed = now
	m.cursor = (idx + 1) % len(m.creds)
	return Credential{ID: c.id, Secret: c.secret}, nil
}

// Wait blocks until the credential's pacing limiter admits one request.
func (m *Manager) Wait(ctx context.Context, cred Credential) error {
	m.mu.Lock()
	c, ok := m.byID[cred.ID]
	m.mu.Unlock()
	if !ok || c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// ReportSuccess resets the credential's failure counter and feeds the circuit.
func (m *Manager) ReportSuccess(cred Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.byID[cred.ID]; ok {
		c.failures = 0
	}
	m.breaker.RecordSuccess()
}

// ReportFailure records a classified failure for a credential previously
// returned by Acquire.
func (m *Manager) ReportFailure(cred Credential, kind embedding.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	c, ok := m.byID[cred.ID]

	switch kind {
	case embedding.KindQuotaExceeded:
		if ok {
			c.failures++
			m.coolDownLocked(c, now, "quota exceeded")
		}
		m.breaker.RecordQuotaError()
	case embedding.KindTransientNetwork:
		if ok {
			c.failures++
			if m.failLim > 0 && c.failures >= m.failLim {
				m.coolDownLocked(c, now, "consecutive transient failures")
			}
		}
		m.breaker.RecordFailure()
	case embedding.KindAuthFailure:
		if ok && c.state != StateDisabled {
			c.failures++
			c.state = StateDisabled
			m.log.WithPayload(map[string]interface{}{"credential": c.id}).Warn("credential disabled after authentication failure")
		}
		m.breaker.RecordFailure()
	default:
		// a rejected request, a dimension mismatch or a cancellation says
		// nothing about backend health
		m.breaker.Release()
	}
	m.publishLocked()
}

// CircuitState returns the current circuit state.
func (m *Manager) CircuitState() circuitbreaker.State {
	return m.breaker.State()
}

// Available reports whether an Acquire right now could succeed.
func (m *Manager) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked(m.now())
	return m.breaker.State() != circuitbreaker.Open && m.nextActiveLocked() >= 0
}

// CredentialSnapshot is the read-only view of one credential.
type CredentialSnapshot struct {
	ID                  string     `json:"id"`
	State               State      `json:"state"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	LastUsed            *time.Time `json:"last_used,omitempty"`
	CooldownUntil       *time.Time `json:"cooldown_until,omitempty"`
}

// Snapshot is the read-only view of the pool and its circuit.
type Snapshot struct {
	Circuit     string                `json:"circuit"`
	State       string                `json:"state"`
	Counts      circuitbreaker.Counts `json:"counts"`
	Credentials []CredentialSnapshot  `json:"credentials"`
	Active      int                   `json:"active"`
}

// Snapshot returns the current pool state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLocked(m.now())
	counts := m.breaker.Counts()
	s := Snapshot{Circuit: m.name, State: counts.State.String(), Counts: counts}
	for _, c := range m.creds {
		cs := CredentialSnapshot{ID: c.id, State: c.state, ConsecutiveFailures: c.failures}
		if !c.lastUsed.IsZero() {
			t := c.lastUsed
			cs.LastUsed = &t
		}
		if c.state == StateRateLimited {
			t := c.cooldownUntil
			cs.CooldownUntil = &t
		}
		if c.state == StateActive {
			s.Active++
		}
		s.Credentials = append(s.Credentials, cs)
	}
	return s
}

// refreshLocked reactivates credentials whose cool-down has elapsed.
func (m *Manager) refreshLocked(now time.Time) {
	changed := false
	for _, c := range m.creds {
		if c.state == StateRateLimited && !now.Before(c.cooldownUntil) {
			c.state = StateActive
			c.failures = 0
			changed = true
		}
	}
	if changed {
		m.publishLocked()
	}
}

// nextActiveLocked scans from the cursor for an active credential.
func (m *Manager) nextActiveLocked() int {
	for i := 0; i < len(m.creds); i++ {
		idx := (m.cursor + i) % len(m.creds)
		if m.creds[idx].state == StateActive {
			return idx
		}
	}
	return -1
}

func (m *Manager) coolDownLocked(c *credential, now time.Time, reason string) {
	if c.state == StateDisabled {
		return
	}
	c.state = StateRateLimited
	c.cooldownUntil = now.Add(m.cooldown)
	m.log.WithPayload(map[string]interface{}{
		"credential":     c.id,
		"reason":         reason,
		"cooldown_until": c.cooldownUntil,
	}).Info("credential rate limited")
}

func (m *Manager) circuitOpenErrLocked(now time.Time) error {
	retry := time.Duration(0)
	if until := m.breaker.Counts().OpenUntil; until.After(now) {
		retry = until.Sub(now)
	}
	return &NoCredentialError{CircuitOpen: true, RetryAfter: retry}
}

func (m *Manager) exhaustedErrLocked(now time.Time) error {
	var earliest time.Time
	allDisabled := true
	for _, c := range m.creds {
		if c.state != StateRateLimited {
			continue
		}
		allDisabled = false
		if earliest.IsZero() || c.cooldownUntil.Before(earliest) {
			earliest = c.cooldownUntil
		}
	}
	err := &NoCredentialError{AllDisabled: allDisabled}
	if !earliest.IsZero() {
		err.RetryAfter = earliest.Sub(now)
	}
	return err
}

func (m *Manager) onStateChange(from, to circuitbreaker.State) {
	m.metrics.SetCircuitState(m.name, int(to))
	entry := m.log.WithPayload(map[string]interface{}{"from": from.String(), "to": to.String()})
	if to == circuitbreaker.Open {
		entry.Warn("quota circuit opened")
		return
	}
	entry.Info("quota circuit state changed")
}

// publishLocked exports credential counts per state.
func (m *Manager) publishLocked() {
	if m.metrics == nil {
		return
	}
	counts := map[string]int{string(StateActive): 0, string(StateRateLimited): 0, string(StateDisabled): 0}
	for _, c := range m.creds {
		counts[string(c.state)]++
	}
	m.metrics.SetCredentialStates(counts)
}
