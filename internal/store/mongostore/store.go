package mongostore

import (
	"context"
	"errors"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"medipos/m/internal/store"
)

var withoutObjectID = bson.M{"_id": 0}

func (s *Store) Find(ctx context.Context, collection string, filter store.Filter, opts ...store.FindOption) ([]store.Document, error) {
	fo := store.ApplyFindOptions(opts)
	findOpts := options.Find().SetProjection(withoutObjectID)
	if fo.SortField != "" {
		dir := 1
		if fo.SortDesc {
			dir = -1
		}
		findOpts.SetSort(bson.D{{Key: fo.SortField, Value: dir}})
	}
	if fo.Limit > 0 {
		findOpts.SetLimit(int64(fo.Limit))
	}
	if fo.Skip > 0 {
		findOpts.SetSkip(int64(fo.Skip))
	}

	cursor, err := s.database.Collection(collection).Find(ctx, toBSON(filter), findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, err
	}
	docs := make([]store.Document, 0, len(raw))
	for _, m := range raw {
		doc, err := fromBSON(m)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) FindOne(ctx context.Context, collection string, filter store.Filter) (store.Document, error) {
	var m bson.M
	err := s.database.Collection(collection).FindOne(ctx, toBSON(filter), options.FindOne().SetProjection(withoutObjectID)).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromBSON(m)
}

func (s *Store) Insert(ctx context.Context, collection string, doc store.Document) error {
	if doc.ID() == "" {
		return store.ErrMissingID
	}
	_, err := s.database.Collection(collection).InsertOne(ctx, map[string]any(doc))
	return mapWriteErr(err)
}

func (s *Store) InsertMany(ctx context.Context, collection string, docs []store.Document) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]interface{}, 0, len(docs))
	for _, doc := range docs {
		if doc.ID() == "" {
			return store.ErrMissingID
		}
		batch = append(batch, map[string]any(doc))
	}
	_, err := s.database.Collection(collection).InsertMany(ctx, batch)
	return mapWriteErr(err)
}

func (s *Store) UpdateOne(ctx context.Context, collection string, filter store.Filter, patch store.Document) (bool, error) {
	set := bson.M{}
	for k, v := range patch {
		if k != "id" {
			set[k] = v
		}
	}
	if len(set) == 0 {
		n, err := s.database.Collection(collection).CountDocuments(ctx, toBSON(filter), options.Count().SetLimit(1))
		return n > 0, err
	}
	res, err := s.database.Collection(collection).UpdateOne(ctx, toBSON(filter), bson.M{"$set": set})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (s *Store) Upsert(ctx context.Context, collection string, doc store.Document) error {
	if doc.ID() == "" {
		return store.ErrMissingID
	}
	_, err := s.database.Collection(collection).ReplaceOne(ctx, bson.M{"id": doc.ID()}, map[string]any(doc), options.Replace().SetUpsert(true))
	return mapWriteErr(err)
}

func (s *Store) DeleteOne(ctx context.Context, collection string, filter store.Filter) (bool, error) {
	res, err := s.database.Collection(collection).DeleteOne(ctx, toBSON(filter))
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (s *Store) DeleteMany(ctx context.Context, collection string, filter store.Filter) (int64, error) {
	res, err := s.database.Collection(collection).DeleteMany(ctx, toBSON(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *Store) Count(ctx context.Context, collection string, filter store.Filter) (int64, error) {
	return s.database.Collection(collection).CountDocuments(ctx, toBSON(filter))
}

// Increment applies $inc only when the current value keeps the result at or
// above floor, so the check and the write are one server-side operation.
func (s *Store) Increment(ctx context.Context, collection, id, field string, delta, floor int64) (int64, error) {
	coll := s.database.Collection(collection)
	filter := bson.M{"id": id}
	if floor != store.NoFloor {
		filter[field] = bson.M{"$gte": floor - delta}
	}
	var updated bson.M
	err := coll.FindOneAndUpdate(ctx, filter, bson.M{"$inc": bson.M{field: delta}},
		options.FindOneAndUpdate().SetReturnDocument(options.After).SetProjection(bson.M{"_id": 0, field: 1}),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		n, cerr := coll.CountDocuments(ctx, bson.M{"id": id})
		if cerr != nil {
			return 0, cerr
		}
		if n == 0 {
			return 0, store.ErrNotFound
		}
		return 0, store.ErrBelowFloor
	}
	if err != nil {
		return 0, err
	}
	doc, err := fromBSON(updated)
	if err != nil {
		return 0, err
	}
	next, _ := doc.Int(field)
	return next, nil
}

// ReplaceAll deletes then inserts. Without Config.Transactions the two steps
// are not atomic.
func (s *Store) ReplaceAll(ctx context.Context, collection string, docs []store.Document) error {
	return s.withTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.database.Collection(collection).DeleteMany(ctx, bson.M{}); err != nil {
			return err
		}
		return s.InsertMany(ctx, collection, docs)
	})
}

func mapWriteErr(err error) error {
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicateID
	}
	return err
}

func fromBSON(m bson.M) (store.Document, error) {
	delete(m, "_id")
	return store.Normalize(store.Document(m))
}

// toBSON translates the portable filter into a MongoDB query document.
func toBSON(f store.Filter) bson.M {
	var and []bson.M
	for _, c := range f.All {
		and = append(and, condToBSON(c))
	}
	if len(f.Any) > 0 {
		or := make([]bson.M, 0, len(f.Any))
		for _, c := range f.Any {
			or = append(or, condToBSON(c))
		}
		and = append(and, bson.M{"$or": or})
	}
	switch len(and) {
	case 0:
		return bson.M{}
	case 1:
		return and[0]
	}
	return bson.M{"$and": and}
}

func condToBSON(c store.Cond) bson.M {
	switch c.Op {
	case store.OpEq:
		return bson.M{c.Field: c.Value}
	case store.OpNe:
		return bson.M{c.Field: bson.M{"$ne": c.Value}}
	case store.OpGt:
		return bson.M{c.Field: bson.M{"$gt": c.Value}}
	case store.OpGte:
		return bson.M{c.Field: bson.M{"$gte": c.Value}}
	case store.OpLt:
		return bson.M{c.Field: bson.M{"$lt": c.Value}}
	case store.OpLte:
		return bson.M{c.Field: bson.M{"$lte": c.Value}}
	case store.OpIn:
		return bson.M{c.Field: bson.M{"$in": c.Value}}
	case store.OpContains:
		sub, _ := c.Value.(string)
		return bson.M{c.Field: bson.M{"$regex": regexp.QuoteMeta(sub), "$options": "i"}}
	case store.OpLtField:
		other, _ := c.Value.(string)
		return bson.M{"$expr": bson.M{"$lt": bson.A{"$" + c.Field, "$" + other}}}
	}
	// unknown operators match nothing
	return bson.M{"_id": bson.M{"$exists": false}}
}
