// Package contentdb reads the primary catalog straight from the content
// service's MongoDB collection.
package contentdb

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"movieapp/searchservice/internal/domain"
)

const (
	defaultCollection = "contents"
	defaultPageSize   = 50
	statusActive      = "active"
)

type Repository struct {
	collection *mongo.Collection
	pageSize   int
}

type contentDoc struct {
	ID                primitive.ObjectID `bson:"_id"`
	Title             string             `bson:"title"`
	Description       string             `bson:"description"`
	Type              string             `bson:"type"`
	Duration          *int               `bson:"duration,omitempty"`
	Year              *int               `bson:"year,omitempty"`
	Genres            []string           `bson:"genres"`
	IMDbID            string             `bson:"imdbID,omitempty"`
	Poster            string             `bson:"poster,omitempty"`
	Director          string             `bson:"director,omitempty"`
	Writer            string             `bson:"writer,omitempty"`
	Actors            []string           `bson:"actors"`
	IMDbRating        *float64           `bson:"imdbRating,omitempty"`
	ViewCount         int64              `bson:"viewCount"`
	AverageUserRating *float64           `bson:"averageUserRating,omitempty"`
	Status            string             `bson:"status"`
	IsFeatured        bool               `bson:"isFeatured"`
}

func NewRepository(client *mongo.Client, dbName, collectionName string, pageSize int) *Repository {
	if strings.TrimSpace(collectionName) == "" {
		collectionName = defaultCollection
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Repository{
		collection: client.Database(dbName).Collection(collectionName),
		pageSize:   pageSize,
	}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	return mongo.Connect(ctx, opts...)
}

func (r *Repository) Name() string {
	return "content-db"
}

func (r *Repository) Search(ctx context.Context, query string, page int) ([]domain.CandidateItem, error) {
	if page < 1 {
		page = 1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "isFeatured", Value: -1}, {Key: "viewCount", Value: -1}}).
		SetSkip(int64((page - 1) * r.pageSize)).
		SetLimit(int64(r.pageSize))

	cursor, err := r.collection.Find(ctx, searchFilter(query), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []contentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	items := make([]domain.CandidateItem, 0, len(docs))
	for _, doc := range docs {
		if item, ok := fromDoc(doc); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// Get accepts either an IMDb id or the document's ObjectID in hex.
func (r *Repository) Get(ctx context.Context, id string) (domain.CandidateItem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.CandidateItem{}, domain.ErrNotFound
	}
	var doc contentDoc
	if err := r.collection.FindOne(ctx, itemFilter(id)).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.CandidateItem{}, domain.ErrNotFound
		}
		return domain.CandidateItem{}, err
	}
	item, ok := fromDoc(doc)
	if !ok {
		return domain.CandidateItem{}, domain.ErrNotFound
	}
	return item, nil
}

func searchFilter(query string) bson.M {
	pattern := bson.M{"$regex": regexp.QuoteMeta(strings.TrimSpace(query)), "$options": "i"}
	return bson.M{
		"status": statusActive,
		"$or": bson.A{
			bson.M{"title": pattern},
			bson.M{"description": pattern},
			bson.M{"director": pattern},
			bson.M{"actors": bson.M{"$elemMatch": pattern}},
		},
	}
}

func itemFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": oid}
	}
	return bson.M{"imdbID": id}
}

func fromDoc(doc contentDoc) (domain.CandidateItem, bool) {
	id := strings.TrimSpace(doc.IMDbID)
	if id == "" && !doc.ID.IsZero() {
		id = doc.ID.Hex()
	}
	if id == "" {
		return domain.CandidateItem{}, false
	}
	item := domain.CandidateItem{
		ID:             id,
		Title:          strings.TrimSpace(doc.Title),
		Kind:           domain.NormalizeKind(doc.Type),
		PosterURL:      strings.TrimSpace(doc.Poster),
		Genres:         compact(doc.Genres),
		Director:       strings.TrimSpace(doc.Director),
		Writer:         strings.TrimSpace(doc.Writer),
		Actors:         compact(doc.Actors),
		Plot:           strings.TrimSpace(doc.Description),
		ExternalRating: doc.IMDbRating,
		UserRating:     doc.AverageUserRating,
		ViewCount:      max(doc.ViewCount, 0),
		SourceOrigin:   domain.SourceOriginPrimary,
	}
	if doc.Year != nil && *doc.Year > 0 {
		item.Year = doc.Year
	}
	if doc.Duration != nil && *doc.Duration > 0 {
		item.RuntimeMinutes = doc.Duration
	}
	return item, true
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
