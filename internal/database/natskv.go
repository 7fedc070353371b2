package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore keeps queue state in a JetStream KV bucket.
type NATSStore struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

var _ Store = (*NATSStore)(nil)

// NewNATS connects to NATS and opens (creating if needed) the given KV bucket.
func NewNATS(natsURL, bucket string) (*NATSStore, error) {
	nc, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating KV bucket %s: %w", bucket, err)
	}
	return &NATSStore{nc: nc, kv: kv}, nil
}

func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}

func (s *NATSStore) DatabaseType() string { return "NATS KV" }

func (s *NATSStore) Get(ctx context.Context, key string) (string, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return string(entry.Value()), true, nil
}

func (s *NATSStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.kv.Put(ctx, key, []byte(value)); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
