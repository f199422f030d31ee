package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go/jetstream"

	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/logfields"
	"git.home.luguber.info/inful/satellited/internal/retry"
)

// NATSKVStore keeps one JSON document per entity in a JetStream key-value
// bucket. Writes are read-merge-update against the entry revision, so
// concurrent writers never drop each other's keys.
type NATSKVStore struct {
	kv     jetstream.KeyValue
	policy retry.Policy
	clock  clockwork.Clock
	logger *slog.Logger
}

// KVOption configures a NATSKVStore.
type KVOption func(*NATSKVStore)

// WithRetryPolicy sets the policy used when an update loses a revision race.
func WithRetryPolicy(p retry.Policy) KVOption {
	return func(s *NATSKVStore) { s.policy = p }
}

func WithLogger(l *slog.Logger) KVOption {
	return func(s *NATSKVStore) { s.logger = l }
}

// OpenKVBucket returns the named bucket, creating it when missing.
func OpenKVBucket(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("open kv bucket %s: %w", bucket, err)
	}
	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Satellite device attributes",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// NewNATSKVStore wraps an open bucket.
func NewNATSKVStore(kv jetstream.KeyValue, opts ...KVOption) *NATSKVStore {
	s := &NATSKVStore{
		kv:     kv,
		policy: retry.DefaultPolicy(),
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *NATSKVStore) Read(ctx context.Context, entity string) (Attributes, error) {
	attrs, _, err := s.get(ctx, entity)
	return attrs, err
}

func (s *NATSKVStore) Write(ctx context.Context, entity string, patch Attributes) error {
	err := s.policy.Do(ctx, s.clock, func(ctx context.Context) error {
		return s.writeOnce(ctx, entity, patch)
	}, func(attempt int, err error) {
		s.logger.Debug("Retrying state write", logfields.Device(entity), logfields.Attempt(attempt), logfields.Error(err))
	})
	if err != nil {
		return ferrors.ExternalWriteError("state store write failed").
			WithCause(err).
			WithContext("entity", entity).
			Build()
	}
	return nil
}

func (s *NATSKVStore) writeOnce(ctx context.Context, entity string, patch Attributes) error {
	current, rev, err := s.get(ctx, entity)
	if err != nil && !IsNotFound(err) {
		return err
	}
	data, err := json.Marshal(current.Apply(patch))
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	if rev == 0 {
		_, err = s.kv.Create(ctx, entity, data)
	} else {
		_, err = s.kv.Update(ctx, entity, data, rev)
	}
	if err != nil {
		return fmt.Errorf("put %s: %w", entity, err)
	}
	return nil
}

func (s *NATSKVStore) get(ctx context.Context, entity string) (Attributes, uint64, error) {
	entry, err := s.kv.Get(ctx, entity)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, notFound(entity)
		}
		return nil, 0, fmt.Errorf("get %s: %w", entity, err)
	}
	attrs := Attributes{}
	if len(entry.Value()) > 0 {
		if err := json.Unmarshal(entry.Value(), &attrs); err != nil {
			return nil, 0, fmt.Errorf("decode %s: %w", entity, err)
		}
	}
	return attrs, entry.Revision(), nil
}
