// Package mongostore persists alerts and watchlists in MongoDB.
package mongostore

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "strings"
    "time"

    "go.mongodb.org/mongo-driver/bson"
    "go.mongodb.org/mongo-driver/bson/primitive"
    "go.mongodb.org/mongo-driver/mongo"
    "go.mongodb.org/mongo-driver/mongo/options"
    "go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

    "pricewatch/internal/alert"
    "pricewatch/internal/obs"
    "pricewatch/internal/provider/symbols"
)

// Collection names
const (
    AlertsCollection     = "alerts"
    WatchlistsCollection = "watchlists"
    UsersCollection      = "users"
)

// DefaultDatabase is used when the connection string names no database.
const DefaultDatabase = "pricewatch"

type alertDoc struct {
    ID             primitive.ObjectID `bson:"_id,omitempty"`
    TelegramUserID string             `bson:"telegramUserId"`
    Symbol         string             `bson:"symbol"`
    Direction      string             `bson:"direction"`
    Target         float64            `bson:"target"`
    Status         string             `bson:"status"`
    TriggeredAt    *time.Time         `bson:"triggeredAt"`
    CreatedAt      time.Time          `bson:"createdAt"`
    UpdatedAt      time.Time          `bson:"updatedAt"`
    LastKnownPrice *float64           `bson:"lastKnownPrice,omitempty"`
}

type watchlistDoc struct {
    TelegramUserID string    `bson:"telegramUserId"`
    Symbols        []string  `bson:"symbols"`
    UpdatedAt      time.Time `bson:"updatedAt"`
}

// Store implements alert.Repository on a MongoDB database.
type Store struct {
    client     *mongo.Client
    alerts     *mongo.Collection
    watchlists *mongo.Collection
    users      *mongo.Collection
    now        func() time.Time
    log        *slog.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
    return func(s *Store) { if now != nil { s.now = now } }
}

func WithLogger(l *slog.Logger) Option {
    return func(s *Store) { if l != nil { s.log = l } }
}

// New wraps an already connected database.
func New(db *mongo.Database, opts ...Option) *Store {
    s := &Store{
        client:     db.Client(),
        alerts:     db.Collection(AlertsCollection),
        watchlists: db.Collection(WatchlistsCollection),
        users:      db.Collection(UsersCollection),
        now:        time.Now,
        log:        obs.Logger,
    }
    for _, o := range opts { o(s) }
    return s
}

// DatabaseName returns the database named in uri, or fallback when it names none.
func DatabaseName(uri, fallback string) string {
    cs, err := connstring.ParseAndValidate(uri)
    if err == nil && cs.Database != "" {
        return cs.Database
    }
    if fallback == "" { return DefaultDatabase }
    return fallback
}

// Connect dials uri, verifies the connection and ensures indexes.
// An empty database falls back to the one named in uri.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
    if database == "" { database = DatabaseName(uri, DefaultDatabase) }

    cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
    defer cancel()

    clientOpts := options.Client().
        ApplyURI(uri).
        SetMaxPoolSize(5).
        SetConnectTimeout(10 * time.Second).
        SetRetryWrites(true).
        SetRetryReads(true)

    client, err := mongo.Connect(cctx, clientOpts)
    if err != nil {
        return nil, fmt.Errorf("%w: connect: %v", alert.ErrStoreUnavailable, err)
    }
    if err := client.Ping(cctx, nil); err != nil {
        _ = client.Disconnect(context.Background())
        return nil, fmt.Errorf("%w: ping: %v", alert.ErrStoreUnavailable, err)
    }

    s := New(client.Database(database), opts...)
    s.log.Info("db connected", "host", obs.SafeHost(uri), "database", database)
    if err := s.EnsureIndexes(cctx); err != nil {
        // indexes speed things up but the store works without them
        s.log.Error("db ensureIndexes failed", "err", err.Error())
    }
    return s, nil
}

// EnsureIndexes creates the indexes the queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
    unique := options.Index().SetUnique(true)
    if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "telegramUserId", Value: 1}}, Options: unique}); err != nil {
        return fmt.Errorf("users index: %w", err)
    }
    if _, err := s.watchlists.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "telegramUserId", Value: 1}}, Options: unique}); err != nil {
        return fmt.Errorf("watchlists index: %w", err)
    }
    _, err := s.alerts.Indexes().CreateMany(ctx, []mongo.IndexModel{
        {Keys: bson.D{{Key: "telegramUserId", Value: 1}, {Key: "status", Value: 1}}},
        {Keys: bson.D{{Key: "status", Value: 1}, {Key: "symbol", Value: 1}}},
    })
    if err != nil {
        return fmt.Errorf("alerts indexes: %w", err)
    }
    return nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
    if s.client == nil { return nil }
    return s.client.Disconnect(ctx)
}

func unavailable(op string, err error) error {
    return fmt.Errorf("%w: %s: %v", alert.ErrStoreUnavailable, op, err)
}

func toDoc(a alert.Alert, now time.Time) alertDoc {
    status := a.Status
    if status == "" { status = alert.Active }
    created := a.CreatedAt
    if created.IsZero() { created = now }
    return alertDoc{
        TelegramUserID: a.UserID,
        Symbol:         symbols.Normalize(a.Ticker),
        Direction:      string(a.Direction),
        Target:         a.TargetPrice,
        Status:         string(status),
        TriggeredAt:    a.TriggeredAt,
        CreatedAt:      created.UTC(),
        UpdatedAt:      now.UTC(),
        LastKnownPrice: a.LastKnownPrice,
    }
}

// fromDoc decodes a stored alert. Unknown statuses read as active; a
// document that fails validation (unknown direction, non-positive target,
// missing owner or symbol) is reported as not ok so it never reaches the poller.
func fromDoc(d alertDoc) (alert.Alert, bool) {
    status := alert.Active
    if d.Status == string(alert.Triggered) { status = alert.Triggered }
    a := alert.Alert{
        ID:             d.ID.Hex(),
        UserID:         d.TelegramUserID,
        Ticker:         strings.ToUpper(strings.TrimSpace(d.Symbol)),
        Direction:      alert.Direction(d.Direction),
        TargetPrice:    d.Target,
        Status:         status,
        CreatedAt:      d.CreatedAt,
        TriggeredAt:    d.TriggeredAt,
        LastKnownPrice: d.LastKnownPrice,
    }
    if err := a.Validate(); err != nil {
        return a, false
    }
    return a, true
}

func (s *Store) Insert(ctx context.Context, a alert.Alert) (string, error) {
    if err := a.Validate(); err != nil {
        return "", err
    }
    res, err := s.alerts.InsertOne(ctx, toDoc(a, s.now()))
    if err != nil {
        s.log.Error("db alerts create failed", "op", "insertOne", "col", AlertsCollection, "err", err.Error())
        return "", unavailable("insert alert", err)
    }
    if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
        return oid.Hex(), nil
    }
    return fmt.Sprint(res.InsertedID), nil
}

func (s *Store) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]alert.Alert, error) {
    cur, err := s.alerts.Find(ctx, filter, opts)
    if err != nil {
        s.log.Error("db alerts "+op+" failed", "op", "find", "col", AlertsCollection, "err", err.Error())
        return nil, unavailable(op, err)
    }
    var docs []alertDoc
    if err := cur.All(ctx, &docs); err != nil {
        return nil, unavailable(op, err)
    }
    out := make([]alert.Alert, 0, len(docs))
    for _, d := range docs {
        a, ok := fromDoc(d)
        if !ok {
            s.log.Warn("db alerts skipped invalid document", "op", op, "id", d.ID.Hex(), "direction", d.Direction, "target", d.Target)
            continue
        }
        out = append(out, a)
    }
    return out, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]alert.Alert, error) {
    opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(alert.ListByUserLimit)
    return s.find(ctx, "list", bson.M{"telegramUserId": userID}, opts)
}

func (s *Store) ListActive(ctx context.Context) ([]alert.Alert, error) {
    opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetLimit(alert.ListActiveLimit)
    return s.find(ctx, "loadActive", bson.M{"status": string(alert.Active)}, opts)
}

func (s *Store) Delete(ctx context.Context, id, userID string) (bool, error) {
    oid, err := primitive.ObjectIDFromHex(id)
    if err != nil {
        return false, nil
    }
    res, err := s.alerts.DeleteOne(ctx, bson.M{"_id": oid, "telegramUserId": userID})
    if err != nil {
        s.log.Warn("db alerts remove failed", "op", "deleteOne", "col", AlertsCollection, "err", err.Error())
        return false, unavailable("delete alert", err)
    }
    return res.DeletedCount > 0, nil
}

func (s *Store) ClearByUser(ctx context.Context, userID string) (int, error) {
    res, err := s.alerts.DeleteMany(ctx, bson.M{"telegramUserId": userID})
    if err != nil {
        s.log.Error("db alerts clear failed", "op", "deleteMany", "col", AlertsCollection, "err", err.Error())
        return 0, unavailable("clear alerts", err)
    }
    return int(res.DeletedCount), nil
}

// MarkTriggered is a conditional update on status=active, so concurrent
// callers cannot both win.
func (s *Store) MarkTriggered(ctx context.Context, id string, price float64) (bool, error) {
    oid, err := primitive.ObjectIDFromHex(id)
    if err != nil {
        return false, fmt.Errorf("%w: bad id %q", alert.ErrInvalidAlert, id)
    }
    now := s.now().UTC()
    res, err := s.alerts.UpdateOne(ctx,
        bson.M{"_id": oid, "status": string(alert.Active)},
        bson.M{"$set": bson.M{
            "status":         string(alert.Triggered),
            "triggeredAt":    now,
            "updatedAt":      now,
            "lastKnownPrice": price,
        }},
    )
    if err != nil {
        s.log.Error("db alerts markTriggered failed", "op", "updateOne", "col", AlertsCollection, "err", err.Error())
        return false, unavailable("mark triggered", err)
    }
    return res.ModifiedCount > 0, nil
}

func (s *Store) UpsertUser(ctx context.Context, userID, chatID string) error {
    if strings.TrimSpace(userID) == "" {
        return fmt.Errorf("%w: missing user", alert.ErrInvalidAlert)
    }
    now := s.now().UTC()
    _, err := s.users.UpdateOne(ctx,
        bson.M{"telegramUserId": userID},
        bson.M{
            "$setOnInsert": bson.M{"createdAt": now},
            "$set":         bson.M{"telegramUserId": userID, "chatId": chatID, "updatedAt": now},
        },
        options.Update().SetUpsert(true),
    )
    if err != nil {
        s.log.Error("db users upsert failed", "op", "updateOne", "col", UsersCollection, "err", err.Error())
        return unavailable("upsert user", err)
    }
    return nil
}

func (s *Store) Watchlist(ctx context.Context, userID string) ([]string, error) {
    var doc watchlistDoc
    err := s.watchlists.FindOne(ctx, bson.M{"telegramUserId": userID}).Decode(&doc)
    if errors.Is(err, mongo.ErrNoDocuments) {
        return nil, nil
    }
    if err != nil {
        s.log.Error("db watchlists get failed", "op", "findOne", "col", WatchlistsCollection, "err", err.Error())
        return nil, unavailable("get watchlist", err)
    }
    out := make([]string, 0, len(doc.Symbols))
    for _, sym := range doc.Symbols {
        out = append(out, strings.ToUpper(sym))
    }
    return out, nil
}

func (s *Store) updateWatchlist(ctx context.Context, op, userID string, update bson.M) error {
    _, err := s.watchlists.UpdateOne(ctx, bson.M{"telegramUserId": userID}, update, options.Update().SetUpsert(true))
    if err != nil {
        s.log.Error("db watchlists "+op+" failed", "op", "updateOne", "col", WatchlistsCollection, "err", err.Error())
        return unavailable(op+" watchlist", err)
    }
    return nil
}

func (s *Store) AddToWatchlist(ctx context.Context, userID, ticker string) error {
    sym := symbols.Normalize(ticker)
    if sym == "" {
        return fmt.Errorf("%w: missing symbol", alert.ErrInvalidAlert)
    }
    now := s.now().UTC()
    return s.updateWatchlist(ctx, "add", userID, bson.M{
        "$setOnInsert": bson.M{"createdAt": now},
        "$set":         bson.M{"updatedAt": now},
        "$addToSet":    bson.M{"symbols": sym},
    })
}

func (s *Store) RemoveFromWatchlist(ctx context.Context, userID, ticker string) error {
    return s.updateWatchlist(ctx, "remove", userID, bson.M{
        "$set":  bson.M{"updatedAt": s.now().UTC()},
        "$pull": bson.M{"symbols": symbols.Normalize(ticker)},
    })
}

func (s *Store) ClearWatchlist(ctx context.Context, userID string) error {
    return s.updateWatchlist(ctx, "clear", userID, bson.M{
        "$set": bson.M{"symbols": []string{}, "updatedAt": s.now().UTC()},
    })
}
