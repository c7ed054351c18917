package readmodel

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// OrderSummary is the list projection: enough for an order row in a customer
// or admin listing, without the full history and address payload.
type OrderSummary struct {
	OrderID   string        `bson:"_id" json:"order_id"`
	OrderCode string        `bson:"order_code" json:"order_code"`
	Status    string        `bson:"status" json:"status"`
	Costs     CostsDocument `bson:"costs" json:"costs"`
	Items     []ItemPreview `bson:"items" json:"items"`
	HasReturn bool          `bson:"has_return" json:"has_return"`
	CreatedAt time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at" json:"updated_at"`
}

type ItemPreview struct {
	ProductID   string `bson:"product_id" json:"product_id"`
	ProductName string `bson:"product_name" json:"product_name"`
	Image       string `bson:"image,omitempty" json:"image,omitempty"`
}

type OrderPage struct {
	Orders   []OrderSummary `json:"orders"`
	Total    int64          `json:"total"`
	Page     int64          `json:"page"`
	Limit    int64          `json:"limit"`
	LastPage int64          `json:"last_page"`
}

type ReturnPage struct {
	Returns  []ReturnDocument `json:"returns"`
	Total    int64            `json:"total"`
	Page     int64            `json:"page"`
	Limit    int64            `json:"limit"`
	LastPage int64            `json:"last_page"`
}

// ListFilters compose as AND conditions on the admin listing.
type ListFilters struct {
	Code        string
	Customer    string
	Status      string
	HasReturn   *bool
	CreatedFrom time.Time
	CreatedTo   time.Time
}

var summaryProjection = bson.M{
	"order_code": 1,
	"status":     1,
	"costs":      1,
	"has_return": 1,
	"created_at": 1,
	"updated_at": 1,
	"items": bson.M{
		"product_id":   1,
		"product_name": 1,
		"image":        1,
	},
}

// ListByCustomer returns the customer's orders newest first.
func (s *Store) ListByCustomer(ctx context.Context, customerID string, page, limit int64) (*OrderPage, error) {
	return s.listOrders(ctx, bson.M{"customer_id": customerID}, page, limit)
}

// ListOrders is the admin-wide listing with composed filters.
func (s *Store) ListOrders(ctx context.Context, filters ListFilters, page, limit int64) (*OrderPage, error) {
	filter := bson.M{}
	if filters.Code != "" {
		filter["order_code"] = bson.M{"$regex": regexp.QuoteMeta(filters.Code), "$options": "i"}
	}
	if filters.Customer != "" {
		filter["customer_id"] = bson.M{"$regex": filters.Customer, "$options": "i"}
	}
	if filters.Status != "" {
		filter["status"] = filters.Status
	}
	if filters.HasReturn != nil {
		filter["has_return"] = *filters.HasReturn
	}
	createdRange := bson.M{}
	if !filters.CreatedFrom.IsZero() {
		createdRange["$gte"] = filters.CreatedFrom
	}
	if !filters.CreatedTo.IsZero() {
		createdRange["$lte"] = filters.CreatedTo
	}
	if len(createdRange) > 0 {
		filter["created_at"] = createdRange
	}
	return s.listOrders(ctx, filter, page, limit)
}

func (s *Store) listOrders(ctx context.Context, filter bson.M, page, limit int64) (*OrderPage, error) {
	page, limit = clampPage(page, limit)

	total, err := s.orders.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip((page - 1) * limit).
		SetLimit(limit).
		SetProjection(summaryProjection)
	cursor, err := s.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := []OrderSummary{}
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}

	return &OrderPage{
		Orders:   orders,
		Total:    total,
		Page:     page,
		Limit:    limit,
		LastPage: lastPage(total, limit),
	}, nil
}

// GetOrder fetches the full document by order id or order code. Returns
// mongo.ErrNoDocuments when neither matches.
func (s *Store) GetOrder(ctx context.Context, idOrCode string) (*OrderDocument, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"_id": idOrCode},
		bson.M{"order_code": idOrCode},
	}}
	var doc OrderDocument
	if err := s.orders.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) ListReturns(ctx context.Context, page, limit int64) (*ReturnPage, error) {
	page, limit = clampPage(page, limit)

	total, err := s.returns.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count returns: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip((page - 1) * limit).
		SetLimit(limit)
	cursor, err := s.returns.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list returns: %w", err)
	}

	returns := []ReturnDocument{}
	if err := cursor.All(ctx, &returns); err != nil {
		return nil, fmt.Errorf("failed to decode returns: %w", err)
	}

	return &ReturnPage{
		Returns:  returns,
		Total:    total,
		Page:     page,
		Limit:    limit,
		LastPage: lastPage(total, limit),
	}, nil
}

func (s *Store) GetReturn(ctx context.Context, returnID string) (*ReturnDocument, error) {
	var doc ReturnDocument
	if err := s.returns.FindOne(ctx, bson.M{"_id": returnID}).Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func clampPage(page, limit int64) (int64, int64) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

func lastPage(total, limit int64) int64 {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
