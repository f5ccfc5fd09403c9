package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pairstream-go/internal/market"
)

// barDoc is the persisted document shape. Bucket starts are stored as BSON
// dates so descending sorts and range queries stay index-friendly.
type barDoc struct {
	Symbol    string    `bson:"symbol"`
	Timeframe string    `bson:"timeframe"`
	Timestamp time.Time `bson:"timestamp"`
	Open      float64   `bson:"open"`
	High      float64   `bson:"high"`
	Low       float64   `bson:"low"`
	Close     float64   `bson:"close"`
	Volume    float64   `bson:"volume"`
}

// Mongo persists bars in a document collection with a unique compound index
// on (symbol, timeframe, timestamp), making every write an idempotent upsert.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// MongoConfig carries connectivity for the bar collection.
type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// NewMongo connects, pings, and ensures the uniqueness index.
func NewMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	if cfg.Collection == "" {
		cfg.Collection = "resampled_bars"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "symbol", Value: 1}, {Key: "timeframe", Value: 1}, {Key: "timestamp", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure bar index: %w", err)
	}
	return &Mongo{client: client, coll: coll}, nil
}

func filterOf(bar market.Bar) bson.M {
	return bson.M{
		"symbol":    bar.Symbol,
		"timeframe": bar.Timeframe.Label(),
		"timestamp": bar.BucketStart.UTC(),
	}
}

func docOf(bar market.Bar) barDoc {
	return barDoc{
		Symbol:    bar.Symbol,
		Timeframe: bar.Timeframe.Label(),
		Timestamp: bar.BucketStart.UTC(),
		Open:      bar.Open,
		High:      bar.High,
		Low:       bar.Low,
		Close:     bar.Close,
		Volume:    bar.Volume,
	}
}

// Upsert replaces the document at the bar's key, last write wins.
func (m *Mongo) Upsert(ctx context.Context, bar market.Bar) error {
	_, err := m.coll.ReplaceOne(ctx, filterOf(bar), docOf(bar), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert bar %s: %w", bar.Key(), err)
	}
	return nil
}

// MergeUpsert combines the incoming fragment with any stored bar atomically:
// the earlier open survives via $setOnInsert, high/low extend via $max/$min,
// close follows the latest write, volume accumulates.
func (m *Mongo) MergeUpsert(ctx context.Context, bar market.Bar) error {
	update := bson.M{
		"$setOnInsert": bson.M{
			"symbol":    bar.Symbol,
			"timeframe": bar.Timeframe.Label(),
			"timestamp": bar.BucketStart.UTC(),
			"open":      bar.Open,
		},
		"$max": bson.M{"high": bar.High},
		"$min": bson.M{"low": bar.Low},
		"$set": bson.M{"close": bar.Close},
		"$inc": bson.M{"volume": bar.Volume},
	}
	_, err := m.coll.UpdateOne(ctx, filterOf(bar), update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("merge bar %s: %w", bar.Key(), err)
	}
	return nil
}

// Latest returns up to limit bars sorted descending by bucket start.
func (m *Mongo) Latest(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Bar, error) {
	filter := bson.M{"symbol": symbol, "timeframe": tf.Label()}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(int64(limit))
	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query latest bars: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []barDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode bars: %w", err)
	}

	bars := make([]market.Bar, 0, len(docs))
	for _, doc := range docs {
		parsed, err := market.ParseTimeframe(doc.Timeframe)
		if err != nil {
			continue
		}
		bars = append(bars, market.Bar{
			Symbol:      doc.Symbol,
			Timeframe:   parsed,
			BucketStart: doc.Timestamp.UTC(),
			Open:        doc.Open,
			High:        doc.High,
			Low:         doc.Low,
			Close:       doc.Close,
			Volume:      doc.Volume,
		})
	}
	return bars, nil
}

// Ping reports database reachability, used by the health endpoint.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close disconnects the underlying client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
