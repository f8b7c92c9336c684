package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"wallbox-bridge/config"
	"wallbox-bridge/internal/wallbox"
)

// Vendor is the part of the vendor client the synchronizer uses.
type Vendor interface {
	Authenticate(ctx context.Context, email, password string) (string, error)
	FetchPrimary(ctx context.Context, token, chargerID string) (*wallbox.ChargerData, error)
	FetchExtended(ctx context.Context, token, chargerID string) (*wallbox.StatusData, error)
}

// StateWriter publishes state values.
type StateWriter interface {
	SetState(ctx context.Context, path string, value any, ack bool) error
}

// Phase is the position of the synchronizer in its poll cycle.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseAuthenticating  Phase = "authenticating"
	PhasePolling         Phase = "polling"
	PhaseMapping         Phase = "mapping"
	PhaseUnauthenticated Phase = "unauthenticated"
)

// ConnectionPath is the connectivity indicator.
const ConnectionPath = "info.connection"

// Status summarizes the synchronizer for the API.
type Status struct {
	ChargerID    string     `json:"chargerId"`
	Phase        Phase      `json:"phase"`
	Connected    bool       `json:"connected"`
	LastPrimary  *time.Time `json:"lastPrimary,omitempty"`
	LastExtended *time.Time `json:"lastExtended,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
}

// Service owns the poll loop and the last seen snapshots of one charger.
type Service struct {
	cfg    config.WallboxConfig
	vendor Vendor
	states StateWriter
	log    *zap.Logger

	mu        sync.Mutex
	charger   *wallbox.ChargerData
	status    *wallbox.StatusData
	phase     Phase
	connected bool
	lastErr   string
	runCtx    context.Context
	refresh   *time.Timer
}

// NewService creates a synchronizer for the configured charger.
func NewService(cfg config.WallboxConfig, vendor Vendor, states StateWriter, logger *zap.Logger) *Service {
	return &Service{
		cfg:    cfg,
		vendor: vendor,
		states: states,
		log:    logger.Named("poller").With(zap.String("charger", cfg.ChargerID)),
		phase:  PhaseIdle,
	}
}

// Run polls immediately and then on every interval until ctx is cancelled.
// On return the scheduler and any pending refresh are stopped.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	loc := s.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	scheduler := gocron.NewScheduler(loc)
	scheduler.SingletonModeAll()
	if _, err := scheduler.Every(s.cfg.PollInterval).Do(s.PollOnce, ctx); err != nil {
		return fmt.Errorf("failed to schedule polling: %w", err)
	}

	s.log.Info("polling activated",
		zap.Duration("interval", s.cfg.PollInterval),
		zap.Duration("timeout", s.cfg.RequestTimeout))
	scheduler.StartAsync()

	<-ctx.Done()
	scheduler.Stop()
	s.cancelRefresh()
	s.log.Info("polling stopped")
	return nil
}

// PollOnce runs one cycle: authenticate, then fetch and map both payloads.
// The two fetches are independent; a failure of one does not skip the other.
func (s *Service) PollOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	s.setPhase(PhaseAuthenticating)
	token, err := s.vendor.Authenticate(ctx, s.cfg.Email, s.cfg.Password)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.log.Warn("failed to get token from vendor API", zap.Error(err))
		s.setConnected(ctx, false, err)
		s.setPhase(PhaseUnauthenticated)
		return
	}
	s.setConnected(ctx, true, nil)

	s.setPhase(PhasePolling)
	charger, err := s.vendor.FetchPrimary(ctx, token, s.cfg.ChargerID)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.log.Warn("failed to fetch charger data", zap.Error(err))
		s.recordError(err)
	} else {
		s.setPhase(PhaseMapping)
		s.ApplyCharger(ctx, charger)
	}

	s.setPhase(PhasePolling)
	status, err := s.vendor.FetchExtended(ctx, token, s.cfg.ChargerID)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.log.Warn("failed to fetch extended charger data", zap.Error(err))
		s.recordError(err)
	} else {
		s.setPhase(PhaseMapping)
		s.ApplyStatus(ctx, status)
	}

	s.setPhase(PhaseIdle)
}

// ApplyCharger replaces the charger snapshot and publishes its states.
func (s *Service) ApplyCharger(ctx context.Context, data *wallbox.ChargerData) {
	if data == nil {
		return
	}
	s.mu.Lock()
	s.charger = data
	s.mu.Unlock()

	s.log.Debug("new charger data", zap.ByteString("data", data.Raw))
	updates, errs := MapPrimary(data, s.cfg.Location)
	s.publish(ctx, updates, errs)
}

// ApplyStatus replaces the status snapshot and publishes its states.
func (s *Service) ApplyStatus(ctx context.Context, data *wallbox.StatusData) {
	if data == nil {
		return
	}
	s.mu.Lock()
	s.status = data
	charger := s.charger
	s.mu.Unlock()

	s.log.Debug("new extended data", zap.ByteString("data", data.Raw))
	updates, errs := MapExtended(data, charger)
	s.publish(ctx, updates, errs)
}

func (s *Service) publish(ctx context.Context, updates []Update, errs []error) {
	for _, err := range errs {
		s.log.Debug("skipping field", zap.Error(err))
	}
	for _, u := range updates {
		if ctx.Err() != nil {
			return
		}
		if err := s.states.SetState(ctx, u.Path, u.Value, true); err != nil {
			s.log.Warn("failed to set state", zap.String("path", u.Path), zap.Error(err))
		}
	}
}

// Charger returns the last charger snapshot, or nil before the first
// successful fetch.
func (s *Service) Charger() *wallbox.ChargerData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.charger
}

// Extended returns the last status snapshot, or nil.
func (s *Service) Extended() *wallbox.StatusData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Status reports the current phase and freshness of both snapshots.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ChargerID: s.cfg.ChargerID,
		Phase:     s.phase,
		Connected: s.connected,
		LastError: s.lastErr,
	}
	if s.charger != nil {
		t := s.charger.FetchedAt
		st.LastPrimary = &t
	}
	if s.status != nil {
		t := s.status.FetchedAt
		st.LastExtended = &t
	}
	return st
}

// ScheduleRefresh polls again after the refresh delay so the tree reflects
// the vendor's view after a command. A pending refresh is replaced. Nothing
// is scheduled once Run has returned or before it started.
func (s *Service) ScheduleRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := s.runCtx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if s.refresh != nil {
		s.refresh.Stop()
	}
	s.refresh = time.AfterFunc(s.cfg.RefreshDelay, func() {
		s.PollOnce(ctx)
	})
}

func (s *Service) cancelRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refresh != nil {
		s.refresh.Stop()
		s.refresh = nil
	}
}

// SetConnected publishes the connectivity indicator.
func (s *Service) SetConnected(ctx context.Context, connected bool) {
	s.setConnected(ctx, connected, nil)
}

func (s *Service) setConnected(ctx context.Context, connected bool, cause error) {
	s.mu.Lock()
	s.connected = connected
	if cause != nil {
		s.lastErr = cause.Error()
	} else if connected {
		s.lastErr = ""
	}
	s.mu.Unlock()

	if err := s.states.SetState(ctx, ConnectionPath, connected, true); err != nil {
		s.log.Warn("failed to set connection state", zap.Error(err))
	}
}

func (s *Service) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *Service) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}
