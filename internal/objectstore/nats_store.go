// Package objectstore stores gateway blobs in NATS JetStream object buckets.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	errFmtBind     = "failed to bind to existing object store bucket '%s': %w"
	errFmtCreate   = "failed to create object store bucket '%s': %w"
	errFmtGet      = "failed to get object '%s' from bucket '%s': %w"
	errFmtRead     = "failed to read object '%s': %w"
	errFmtClose    = "failed to close object '%s': %w"
	errFmtPut      = "failed to put object '%s' to bucket '%s': %w"
	contentTypeKey = "Content-Type"
)

// Store implements core.ObjectStore on a JetStream object bucket.
type Store struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists.
func New(js nats.JetStreamContext, bucketName string) (*Store, error) {
	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Storage for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf(errFmtCreate, bucketName, err)
		}

		store, err = js.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf(errFmtBind, bucketName, err)
		}
	}

	return &Store{bucket: bucketName, store: store}, nil
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

// Download retrieves an object. A missing key wraps core.ErrNotFound.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.store.Get(key, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf(errFmtGet, key, s.bucket, errors.Join(core.ErrNotFound, err))
		}

		return nil, fmt.Errorf(errFmtGet, key, s.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf(errFmtRead, key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf(errFmtClose, key, closeErr)
	}

	return data, nil
}

// Upload stores data under key, replacing any previous object.
func (s *Store) Upload(ctx context.Context, key string, data []byte) error {
	return s.put(ctx, key, data, nil)
}

// UploadAudio stores encoded audio and records its content type.
func (s *Store) UploadAudio(ctx context.Context, key, contentType string, data []byte) error {
	return s.put(ctx, key, data, nats.Header{contentTypeKey: []string{contentType}})
}

func (s *Store) put(ctx context.Context, key string, data []byte, headers nats.Header) error {
	_, err := s.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     headers,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf(errFmtPut, key, s.bucket, err)
	}

	return nil
}
