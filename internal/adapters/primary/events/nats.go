package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jupiterclapton/feedrank/internal/core/ports"
)

// EventHandler consomme les events contenu et déclenche l'invalidation des
// réponses en cache. Tout est best-effort : un event perdu laisse juste une
// page rassie jusqu'au TTL.
type EventHandler struct {
	janitor ports.CacheJanitor
}

func NewEventHandler(janitor ports.CacheJanitor) *EventHandler {
	return &EventHandler{janitor: janitor}
}

// Contract implicite avec le service contenu
type contentEvent struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// HandleContentCreated : subject "content.created"
func (h *EventHandler) HandleContentCreated(msg *nats.Msg) {
	h.handle(msg, "process_content_created")
}

// HandleContentDeleted : subject "content.deleted"
func (h *EventHandler) HandleContentDeleted(msg *nats.Msg) {
	h.handle(msg, "process_content_deleted")
}

func (h *EventHandler) handle(msg *nats.Msg, spanName string) {
	// Extraction du contexte de trace depuis les headers NATS
	ctx := context.Background()
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))

	tracer := otel.Tracer("feedrank")
	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var event contentEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		span.RecordError(err)
		slog.Error("❌ Invalid event format", "subject", msg.Subject, "error", err)
		return
	}

	if event.AuthorID == "" {
		slog.Warn("⚠️ Event without author, skipping invalidation", "subject", msg.Subject, "content_id", event.ID)
		return
	}

	slog.Info("📨 Content event received", "subject", msg.Subject, "content_id", event.ID, "author_id", event.AuthorID)

	// Invalidation en background, détachée du callback NATS
	go func() {
		childCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		if err := h.janitor.InvalidateContent(childCtx, event.AuthorID); err != nil {
			slog.Error("❌ Cache invalidation failed", "content_id", event.ID, "error", err)
		} else {
			slog.Debug("✅ Cache invalidation complete", "content_id", event.ID)
		}
	}()
}
