package readmodel

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/orderdeskapp/orderdesk/internal/cache"
	"github.com/orderdeskapp/orderdesk/internal/clients"
	"github.com/orderdeskapp/orderdesk/internal/events"
)

// DocumentStore is the write surface the projector drives.
type DocumentStore interface {
	InsertOrder(ctx context.Context, doc OrderDocument) error
	ApplyTransition(ctx context.Context, orderID string, status string, entry HistoryDocument, extra bson.M) error
	FlagReturn(ctx context.Context, orderID, returnID string) error
	InsertReturn(ctx context.Context, doc ReturnDocument) error
}

type CatalogSource interface {
	GetDetails(ctx context.Context, productIDs []string) (map[string]clients.ProductDetails, error)
}

const (
	appliedEventTTL = 24 * time.Hour
	productCacheTTL = time.Hour
)

// Projector applies each event to the read model effectively once. The cache
// marker is a fast path; the store-level guards carry the real idempotency.
type Projector struct {
	store   DocumentStore
	catalog CatalogSource
	cache   cache.Provider
	logger  *slog.Logger
}

func NewProjector(store DocumentStore, catalog CatalogSource, cacheProvider cache.Provider, logger *slog.Logger) *Projector {
	return &Projector{
		store:   store,
		catalog: catalog,
		cache:   cacheProvider,
		logger:  logger,
	}
}

func (p *Projector) HandleEvent(ctx context.Context, env events.Envelope) error {
	marker := cache.EventKey(env.EventID.String())
	if _, err := p.cache.Get(ctx, marker); err == nil {
		p.logger.Debug("event already applied", "event_id", env.EventID, "event_type", env.Type)
		return nil
	}

	payload, err := env.Decode()
	if err != nil {
		// An undecodable payload never improves on redelivery.
		p.logger.Error("discarding undecodable event", "event_id", env.EventID, "event_type", env.Type, "error", err)
		return nil
	}

	switch payload := payload.(type) {
	case *events.OrderCreated:
		err = p.applyInsert(ctx, payload.Order)
	case *events.OrderCancelled:
		err = p.applyInsert(ctx, payload.Order)
	case *events.OrderPaid:
		err = p.store.ApplyTransition(ctx, payload.OrderID.String(), string(payload.NewStatus),
			historyDocument(payload.History), bson.M{
				"payment": PaymentDocument{
					PaymentID: payload.Payment.PaymentID.String(),
					Method:    payload.Payment.Method,
					PaidAt:    payload.Payment.PaidAt,
				},
			})
	case *events.OrderConfirmed:
		err = p.store.ApplyTransition(ctx, payload.OrderID.String(), string(payload.NewStatus),
			historyDocument(payload.History), nil)
	case *events.OrderProcessed:
		err = p.store.ApplyTransition(ctx, payload.OrderID.String(), string(payload.NewStatus),
			historyDocument(payload.History), nil)
	case *events.OrderDelivered:
		err = p.store.ApplyTransition(ctx, payload.OrderID.String(), string(payload.NewStatus),
			historyDocument(payload.History), bson.M{
				"delivery_evidence": EvidenceDocument{
					ReceivedBy: payload.Evidence.ReceivedBy,
					Message:    payload.Evidence.Message,
					PhotoURL:   payload.Evidence.PhotoURL,
				},
			})
	case *events.ReturnCreated:
		err = p.applyReturn(ctx, payload)
	}
	if err != nil {
		return err
	}

	// Marker loss is harmless; a replay hits the store guards instead.
	if err := p.cache.Set(ctx, marker, "1", appliedEventTTL); err != nil {
		p.logger.Warn("failed to mark event applied", "event_id", env.EventID, "error", err)
	}
	return nil
}

func (p *Projector) applyInsert(ctx context.Context, snapshot events.OrderSnapshot) error {
	doc := documentFromSnapshot(snapshot)
	p.enrichItems(ctx, doc.Items)
	if err := p.store.InsertOrder(ctx, doc); err != nil {
		return err
	}
	p.logger.Info("order projected", "order_id", doc.OrderID, "status", doc.Status)
	return nil
}

func (p *Projector) applyReturn(ctx context.Context, payload *events.ReturnCreated) error {
	if len(payload.Items) == 0 {
		// Upstream data error; applying it would create an unclassifiable return.
		p.logger.Error("rejecting return event with no affected items",
			"return_id", payload.ReturnID, "order_id", payload.OrderID)
		return nil
	}

	items := make([]ReturnItemDocument, len(payload.Items))
	for i, item := range payload.Items {
		items[i] = ReturnItemDocument{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Action:    string(item.Action),
		}
	}

	doc := ReturnDocument{
		ReturnID:   payload.ReturnID.String(),
		OrderID:    payload.OrderID.String(),
		OrderCode:  payload.OrderCode,
		CustomerID: payload.CustomerID.String(),
		Type:       classifyReturn(payload.Items),
		Items:      items,
		CreatedAt:  payload.CreatedAt,
	}
	if err := p.store.InsertReturn(ctx, doc); err != nil {
		return err
	}
	return p.store.FlagReturn(ctx, doc.OrderID, doc.ReturnID)
}

// classifyReturn derives the return type from the requested item actions.
func classifyReturn(items []events.ReturnItem) ReturnType {
	refunds, replacements := 0, 0
	for _, item := range items {
		switch item.Action {
		case events.ReturnActionRefund:
			refunds++
		case events.ReturnActionReplace:
			replacements++
		}
	}
	switch {
	case refunds == len(items):
		return ReturnRefund
	case replacements == len(items):
		return ReturnReplace
	default:
		return ReturnMixed
	}
}

// enrichItems fills image previews from the catalog, going to the cache
// first. Enrichment is best effort: a catalog outage must not block the
// projection.
func (p *Projector) enrichItems(ctx context.Context, items []ItemDocument) {
	var missing []string
	for i := range items {
		cached, err := p.cache.Get(ctx, cache.ProductKey(items[i].ProductID))
		if err != nil {
			missing = append(missing, items[i].ProductID)
			continue
		}
		var details clients.ProductDetails
		if err := json.Unmarshal([]byte(cached), &details); err != nil {
			missing = append(missing, items[i].ProductID)
			continue
		}
		applyDetails(&items[i], details)
	}
	if len(missing) == 0 {
		return
	}

	fetched, err := p.catalog.GetDetails(ctx, missing)
	if err != nil {
		p.logger.Warn("catalog enrichment skipped", "error", err)
		return
	}
	for i := range items {
		details, ok := fetched[items[i].ProductID]
		if !ok {
			continue
		}
		applyDetails(&items[i], details)
		if encoded, err := json.Marshal(details); err == nil {
			_ = p.cache.Set(ctx, cache.ProductKey(items[i].ProductID), string(encoded), productCacheTTL)
		}
	}
}

func applyDetails(item *ItemDocument, details clients.ProductDetails) {
	if details.Image != "" {
		item.Image = details.Image
	}
	if item.ProductName == "" {
		item.ProductName = details.Name
	}
}
