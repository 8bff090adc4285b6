package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestream/internal/config"
	"github.com/dokzlo13/huestream/internal/eventbus"
	"github.com/dokzlo13/huestream/internal/ledger"
)

// LedgerService records stream events from the bus and prunes old entries.
type LedgerService struct {
	cfg    *config.Config
	ledger *ledger.Ledger
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(cfg *config.Config, l *ledger.Ledger) *LedgerService {
	return &LedgerService{cfg: cfg, ledger: l}
}

// Subscribe registers the bus handlers that write ledger entries.
func (s *LedgerService) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeSessionState, s.onSessionState)
	bus.Subscribe(eventbus.EventTypeTransportError, s.onTransportError)
}

func (s *LedgerService) onSessionState(e eventbus.Event) {
	state, _ := e.Data["state"].(string)
	sessionID, _ := e.Data["session_id"].(string)
	groupID, _ := e.Data["group"].(string)

	var eventType ledger.EventType
	switch state {
	case "streaming":
		eventType = ledger.EventSessionOpened
	case "closed":
		eventType = ledger.EventSessionClosed
	case "failed":
		eventType = ledger.EventNegotiationFailed
	default:
		return
	}

	payload := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		if k == "session_id" || k == "group" || k == "state" {
			continue
		}
		payload[k] = v
	}

	s.append(eventType, sessionID, groupID, payload)
}

func (s *LedgerService) onTransportError(e eventbus.Event) {
	sessionID, _ := e.Data["session_id"].(string)
	groupID, _ := e.Data["group"].(string)

	s.append(ledger.EventTransportError, sessionID, groupID, map[string]any{
		"op":    e.Data["op"],
		"error": e.Data["error"],
	})
}

func (s *LedgerService) append(eventType ledger.EventType, sessionID, groupID string, payload map[string]any) {
	if err := s.ledger.Append(eventType, sessionID, groupID, payload); err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to append ledger entry")
	}
}

// Start begins periodic cleanup of old entries.
func (s *LedgerService) Start(ctx context.Context) {
	go s.runCleanup(ctx)
}

func (s *LedgerService) runCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
