package store

import (
	"context"
	"errors"
)

// Collection is a typed view over one collection of a Store.
type Collection[T any] struct {
	store Store
	name  string
}

// Typed binds T to the named collection.
func Typed[T any](s Store, name string) Collection[T] {
	return Collection[T]{store: s, name: name}
}

func (c Collection[T]) Name() string { return c.name }

// Get loads the document with id. It returns ErrNotFound when absent.
func (c Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var out T
	doc, err := c.store.FindOne(ctx, c.name, ByID(id))
	if err != nil {
		return out, err
	}
	err = Decode(doc, &out)
	return out, err
}

func (c Collection[T]) Find(ctx context.Context, filter Filter, opts ...FindOption) ([]T, error) {
	docs, err := c.store.Find(ctx, c.name, filter, opts...)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](docs)
}

func (c Collection[T]) Insert(ctx context.Context, v T) error {
	doc, err := Encode(v)
	if err != nil {
		return err
	}
	return c.store.Insert(ctx, c.name, doc)
}

// Update applies patch to the document with id and returns the result.
func (c Collection[T]) Update(ctx context.Context, id string, patch Document) (T, error) {
	var out T
	if len(patch) > 0 {
		matched, err := c.store.UpdateOne(ctx, c.name, ByID(id), patch)
		if err != nil {
			return out, err
		}
		if !matched {
			return out, ErrNotFound
		}
	}
	return c.Get(ctx, id)
}

// Delete removes the document with id. It returns ErrNotFound when absent.
func (c Collection[T]) Delete(ctx context.Context, id string) error {
	deleted, err := c.store.DeleteOne(ctx, c.name, ByID(id))
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

func (c Collection[T]) Count(ctx context.Context, filter Filter) (int64, error) {
	return c.store.Count(ctx, c.name, filter)
}

// IsNotFound reports whether err means the document was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
