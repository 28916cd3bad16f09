// Package mongo stores the ledger in MongoDB using the collection layout the
// register client was built around: categories, menuItems, orders, inventory
// and users. Multi-document writes run in transactions, so the server must be
// a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

const (
	CollectionCategories = "categories"
	CollectionProducts   = "menuItems"
	CollectionOrders     = "orders"
	CollectionInventory  = "inventory"
	CollectionUsers      = "users"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

func New(ctx context.Context, uri string, database string) (*Store, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMaxPoolSize(50)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &Store{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.col(CollectionCategories).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := s.col(CollectionOrders).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: -1}},
	}); err != nil {
		return err
	}
	_, err := s.col(CollectionInventory).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "productId", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	return err
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *Store) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

func findAll[D any, T any](ctx context.Context, c *mongo.Collection, filter any, opts *options.FindOptions, conv func(D) T) ([]T, error) {
	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]T, 0, 32)
	for cur.Next(ctx) {
		var doc D
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, conv(doc))
	}
	return out, cur.Err()
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "name", Value: 1}})
	return findAll(ctx, s.col(CollectionCategories), bson.M{}, opts, categoryDoc.toDomain)
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var doc categoryDoc
	if err := s.col(CollectionCategories).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	c := doc.toDomain()
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	if _, err := s.col(CollectionCategories).InsertOne(ctx, fromCategory(category)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &category, nil
}

func (s *Store) UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	res, err := s.col(CollectionCategories).UpdateByID(ctx, category.ID, bson.M{"$set": bson.M{
		"name":     category.Name,
		"enabled":  category.Enabled,
		"inOrders": category.InOrders,
	}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, store.ErrNotFound
	}
	return &category, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	res, err := s.col(CollectionCategories).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "category", Value: 1}, {Key: "name", Value: 1}})
	return findAll(ctx, s.col(CollectionProducts), bson.M{}, opts, productDoc.toDomain)
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var doc productDoc
	if err := s.col(CollectionProducts).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	p := doc.toDomain()
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("menu")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	if _, err := s.col(CollectionProducts).InsertOne(ctx, fromProduct(product)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	var doc productDoc
	err := s.col(CollectionProducts).FindOneAndUpdate(ctx, bson.M{"_id": product.ID}, bson.M{"$set": bson.M{
		"name":          product.Name,
		"category":      product.Category,
		"purchasePrice": product.PurchasePrice,
		"salesPrice":    product.SalesPrice,
	}}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return nil, notFound(err)
	}
	p := doc.toDomain()
	return &p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.col(CollectionProducts).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// clampedIncrement is an update pipeline computing max(0, remainingStock+delta)
// on the server.
func clampedIncrement(delta int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "remainingStock", Value: bson.D{{Key: "$max", Value: bson.A{
			0,
			bson.D{{Key: "$add", Value: bson.A{"$remainingStock", delta}}},
		}}}}}}},
	}
}

func (s *Store) applyStock(ctx context.Context, record domain.InventoryRecord) (domain.InventoryRecord, error) {
	var doc productDoc
	err := s.col(CollectionProducts).FindOneAndUpdate(ctx,
		bson.M{"_id": record.ProductID},
		clampedIncrement(record.Adjustment),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return record, notFound(err)
	}
	if record.ID == "" {
		record.ID = xid.New("inv")
	}
	if record.ProductName == "" {
		record.ProductName = doc.Name
	}
	record.AfterStock = doc.RemainingStock
	if _, err := s.col(CollectionInventory).InsertOne(ctx, fromRecord(record)); err != nil {
		return record, err
	}
	return record, nil
}

func (s *Store) AdjustStock(ctx context.Context, record domain.InventoryRecord) (*domain.InventoryRecord, error) {
	var applied domain.InventoryRecord
	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		var err error
		applied, err = s.applyStock(sc, record)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &applied, nil
}

func (s *Store) ResetStock(ctx context.Context, productID string, quantity int, record domain.InventoryRecord) (*domain.Product, *domain.InventoryRecord, error) {
	if quantity < 0 {
		return nil, nil, store.ErrInvalidTransaction
	}
	var (
		product domain.Product
		applied domain.InventoryRecord
	)
	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		var before productDoc
		err := s.col(CollectionProducts).FindOneAndUpdate(sc,
			bson.M{"_id": productID},
			bson.M{"$set": bson.M{"remainingStock": quantity, "totalStock": quantity}},
			options.FindOneAndUpdate().SetReturnDocument(options.Before),
		).Decode(&before)
		if err != nil {
			return notFound(err)
		}
		product = before.toDomain()
		product.RemainingStock = quantity
		product.TotalStock = quantity

		applied = record
		if applied.ID == "" {
			applied.ID = xid.New("inv")
		}
		applied.ProductID = product.ID
		applied.ProductName = product.Name
		applied.Type = domain.InventoryReset
		applied.Adjustment = quantity - before.RemainingStock
		applied.AfterStock = quantity
		_, err = s.col(CollectionInventory).InsertOne(sc, fromRecord(applied))
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &product, &applied, nil
}

func (s *Store) ResetAllStock(ctx context.Context, reason string, at time.Time) ([]domain.InventoryRecord, error) {
	var records []domain.InventoryRecord
	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		records = records[:0]
		drifted, err := findAll(sc, s.col(CollectionProducts),
			bson.M{"$expr": bson.M{"$ne": bson.A{"$remainingStock", "$totalStock"}}},
			options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
			productDoc.toDomain)
		if err != nil {
			return err
		}
		for _, p := range drifted {
			var before productDoc
			err := s.col(CollectionProducts).FindOneAndUpdate(sc,
				bson.M{"_id": p.ID},
				mongo.Pipeline{{{Key: "$set", Value: bson.D{{Key: "remainingStock", Value: "$totalStock"}}}}},
				options.FindOneAndUpdate().SetReturnDocument(options.Before),
			).Decode(&before)
			if err != nil {
				return err
			}
			rec := domain.InventoryRecord{
				ID:          xid.New("inv"),
				ProductID:   before.ID,
				ProductName: before.Name,
				Type:        domain.InventoryReset,
				Reason:      reason,
				Adjustment:  before.TotalStock - before.RemainingStock,
				AfterStock:  before.TotalStock,
				Timestamp:   at,
			}
			if _, err := s.col(CollectionInventory).InsertOne(sc, fromRecord(rec)); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) ListInventoryRecords(ctx context.Context, query domain.InventoryQuery) ([]domain.InventoryRecord, error) {
	filter := bson.M{}
	if query.ProductID != "" {
		filter["productId"] = query.ProductID
	}
	if query.Type != "" {
		filter["type"] = query.Type
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	if query.Limit > 0 {
		opts.SetLimit(int64(query.Limit))
	}
	return findAll(ctx, s.col(CollectionInventory), filter, opts, inventoryDoc.toDomain)
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order, debits []domain.InventoryRecord) (*domain.Order, []domain.InventoryRecord, error) {
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusCompleted
	}
	if order.Items == nil {
		order.Items = []domain.OrderLine{}
	}

	var applied []domain.InventoryRecord
	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		applied = make([]domain.InventoryRecord, 0, len(debits))
		if _, err := s.col(CollectionOrders).InsertOne(sc, fromOrder(order)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return store.ErrInvalidTransaction
			}
			return err
		}
		for _, d := range debits {
			d.OrderID = order.ID
			rec, err := s.applyStock(sc, d)
			if err != nil {
				return err
			}
			applied = append(applied, rec)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &order, applied, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var doc orderDoc
	if err := s.col(CollectionOrders).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	o := doc.toDomain()
	return &o, nil
}

func (s *Store) ListOrders(ctx context.Context, query domain.OrderQuery) ([]domain.Order, error) {
	filter := bson.M{}
	if !query.IncludeCancelled {
		filter["status"] = bson.M{"$ne": domain.OrderStatusCancelled}
	}
	window := bson.M{}
	if query.From != nil {
		window["$gte"] = *query.From
	}
	if query.To != nil {
		window["$lt"] = *query.To
	}
	if len(window) > 0 {
		filter["timestamp"] = window
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	if query.Limit > 0 {
		opts.SetLimit(int64(query.Limit))
	}
	return findAll(ctx, s.col(CollectionOrders), filter, opts, orderDoc.toDomain)
}

func (s *Store) CancelOrder(ctx context.Context, id string, entry domain.ChangeLog) (*domain.Order, []domain.InventoryRecord, error) {
	var (
		order   domain.Order
		applied []domain.InventoryRecord
	)
	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		var doc orderDoc
		err := s.col(CollectionOrders).FindOneAndUpdate(sc,
			bson.M{"_id": id, "status": domain.OrderStatusCompleted},
			bson.M{
				"$set":  bson.M{"status": domain.OrderStatusCancelled},
				"$push": bson.M{"changeLogs": changeLogDoc(entry)},
			},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			n, countErr := s.col(CollectionOrders).CountDocuments(sc, bson.M{"_id": id})
			if countErr != nil {
				return countErr
			}
			if n == 0 {
				return store.ErrNotFound
			}
			return store.ErrConflict
		}
		if err != nil {
			return err
		}
		order = doc.toDomain()

		applied = applied[:0]
		for _, c := range store.CreditRecords(order, func() string { return xid.New("inv") }, entry.UpdatedAt) {
			rec, err := s.applyStock(sc, c)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			applied = append(applied, rec)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &order, applied, nil
}

func (s *Store) UpdatePaymentMethod(ctx context.Context, id string, method string, entry domain.ChangeLog) (*domain.Order, error) {
	var order domain.Order
	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		var doc orderDoc
		if err := s.col(CollectionOrders).FindOne(sc, bson.M{"_id": id}).Decode(&doc); err != nil {
			return notFound(err)
		}
		if doc.Status == domain.OrderStatusCancelled || doc.IsExpense {
			return store.ErrConflict
		}
		if doc.PaymentMethod == method {
			order = doc.toDomain()
			return nil
		}
		entry.Before = doc.PaymentMethod
		entry.After = method
		var updated orderDoc
		err := s.col(CollectionOrders).FindOneAndUpdate(sc,
			bson.M{"_id": id, "status": bson.M{"$ne": domain.OrderStatusCancelled}},
			bson.M{
				"$set":  bson.M{"paymentMethod": method},
				"$push": bson.M{"changeLogs": changeLogDoc(entry)},
			},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&updated)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.ErrConflict
		}
		if err != nil {
			return err
		}
		order = updated.toDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	var doc userDoc
	if err := s.col(CollectionUsers).FindOne(ctx, bson.M{"_id": normalizeEmail(email)}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	u := doc.toDomain()
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Email = normalizeEmail(user.Email)
	if user.Email == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCasher
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	if _, err := s.col(CollectionUsers).InsertOne(ctx, fromUser(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	return findAll(ctx, s.col(CollectionUsers), bson.M{}, opts, userDoc.toDomain)
}

func (s *Store) UpdateUserPassword(ctx context.Context, email string, password string) error {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	res, err := s.col(CollectionUsers).UpdateByID(ctx, email, bson.M{"$set": bson.M{"password": password}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// WatchChanges follows the database change stream and calls emit with the
// collection name of every change until ctx is cancelled.
func (s *Store) WatchChanges(ctx context.Context, emit func(collection string)) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "ns.coll", Value: bson.D{{Key: "$in", Value: bson.A{
			CollectionCategories, CollectionProducts, CollectionOrders, CollectionInventory,
		}}}}}}},
		{{Key: "$project", Value: bson.D{{Key: "ns", Value: 1}}}},
	}
	stream, err := s.db.Watch(ctx, pipeline)
	if err != nil {
		return err
	}
	defer stream.Close(context.WithoutCancel(ctx))

	for stream.Next(ctx) {
		var event struct {
			NS struct {
				Coll string `bson:"coll"`
			} `bson:"ns"`
		}
		if err := stream.Decode(&event); err != nil {
			return err
		}
		emit(event.NS.Coll)
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
