package deployments

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	gos3 "github.com/mendersoftware/deployments/pkg/s3"
	"github.com/mendersoftware/deployments/pkg/secrets"
)

// bucketStore binds an S3 client to a single bucket.
type bucketStore struct {
	client *gos3.Client
	bucket string
}

func (b *bucketStore) PresignGet(ctx context.Context, key string, expire time.Duration) (string, error) {
	return b.client.PresignGet(ctx, b.bucket, key, expire)
}

func (b *bucketStore) PresignPut(ctx context.Context, key string, expire time.Duration) (string, error) {
	return b.client.PresignPut(ctx, b.bucket, key, expire)
}

func (b *bucketStore) PutObject(ctx context.Context, key string, r io.Reader, size int64) error {
	return b.client.PutObject(ctx, b.bucket, key, r, size, "")
}

func (b *bucketStore) ObjectExists(ctx context.Context, key string) (bool, error) {
	return b.client.ObjectExists(ctx, b.bucket, key)
}

func (b *bucketStore) DeleteObject(ctx context.Context, key string) error {
	return b.client.DeleteObject(ctx, b.bucket, key)
}

// StorageResolver implements ObjectStores against the tenant storage
// settings: a tenant with settings of its own gets a client built from them
// with the sealed secret opened on demand, everyone else shares the default
// backend. Built clients are cached until the settings change.
type StorageResolver struct {
	store   DataStore
	keyring *secrets.Keyring

	fallback ObjectStore

	mu    sync.Mutex
	cache map[string]ObjectStore
}

func NewStorageResolver(store DataStore, keyring *secrets.Keyring, defaultClient *gos3.Client, defaultBucket string) (*StorageResolver, error) {
	if store == nil {
		return nil, errors.New("data store is required")
	}
	if defaultClient == nil || defaultBucket == "" {
		return nil, errors.New("default storage backend is required")
	}
	return &StorageResolver{
		store:    store,
		keyring:  keyring,
		fallback: &bucketStore{client: defaultClient, bucket: defaultBucket},
		cache:    map[string]ObjectStore{},
	}, nil
}

func (r *StorageResolver) ForTenant(ctx context.Context, tenantID string) (ObjectStore, error) {
	r.mu.Lock()
	if cached, ok := r.cache[tenantID]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	settings, sealed, err := r.store.GetStorageSettings(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return r.fallback, nil
	}
	if err != nil {
		return nil, err
	}

	secretKey := ""
	if sealed != "" {
		if r.keyring == nil {
			return nil, errors.New("storage settings are sealed but no keyring is configured")
		}
		secretKey, err = r.keyring.Open(sealed)
		if err != nil {
			return nil, err
		}
	}

	client, err := gos3.NewClient(gos3.Settings{
		Endpoint:       settings.Endpoint,
		Region:         settings.Region,
		AccessKey:      settings.AccessKey,
		SecretKey:      secretKey,
		ForcePathStyle: settings.ForcePath,
	})
	if err != nil {
		return nil, err
	}

	bound := &bucketStore{client: client, bucket: settings.Bucket}
	r.mu.Lock()
	r.cache[tenantID] = bound
	r.mu.Unlock()
	return bound, nil
}

// Invalidate drops the cached client after a settings change.
func (r *StorageResolver) Invalidate(tenantID string) {
	r.mu.Lock()
	delete(r.cache, tenantID)
	r.mu.Unlock()
}
