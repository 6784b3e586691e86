package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the ledger and the escrow release engine.
const (
	ActionEntryApplied = "ledger.entry.applied"
	ActionWalletTopUp  = "wallet.topup"
	ActionEscrowHold   = "escrow.hold"
	ActionRelease      = "escrow.release"
	ActionReleaseRun   = "escrow.run.completed"
)

// Entity types referenced by audit entries.
const (
	EntityLedgerEntry = "LEDGER_ENTRY"
	EntityOrder       = "ORDER"
	EntityWallet      = "WALLET"
	EntityReleaseRun  = "RELEASE_RUN"
)

// Entry is an immutable record of one state-changing action. A nil ActorID
// means the action was taken by the system itself (e.g. the release scheduler).
type Entry struct {
	ID         string
	ActorID    *string
	Action     string
	EntityType string
	EntityID   string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Sink accepts audit entries. Implementations append; nothing ever updates or
// deletes a recorded entry.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// New builds an entry with a fresh id and timestamp.
func New(actorID *string, action, entityType, entityID string, metadata map[string]any) Entry {
	return Entry{
		ID:         uuid.NewString(),
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
}

// LoggerSink writes audit entries to the structured logger. Used in dev mode
// and as the fallback when no durable sink is configured.
type LoggerSink struct {
	logger *slog.Logger
}

// NewLoggerSink constructs a logger-backed sink.
func NewLoggerSink(logger *slog.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

// Record writes the entry to the logger.
func (s *LoggerSink) Record(_ context.Context, entry Entry) error {
	if s == nil || s.logger == nil {
		return nil
	}
	actor := "system"
	if entry.ActorID != nil {
		actor = *entry.ActorID
	}
	s.logger.Info("audit",
		"action", entry.Action,
		"actor", actor,
		"entity_type", entry.EntityType,
		"entity_id", entry.EntityID,
		"metadata", entry.Metadata,
	)
	return nil
}
