// Package destination implements the places artifacts are written to.
package destination

import (
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yurykabanov/pgbackuper/pkg/domain"
)

const defaultRegion = "us-east-1"

type clientKey struct {
	endpoint  string
	region    string
	accessKey string
	secretKey string
}

// Provider picks the destination for a destination type, building it from
// the settings the run started with. S3 clients are reused while the object
// store settings stay the same.
type Provider struct {
	mu       sync.Mutex
	clients  map[clientKey]s3API
	newS3API func(domain.ObjectStoreSettings) s3API
}

func NewProvider() *Provider {
	return &Provider{
		clients:  make(map[clientKey]s3API),
		newS3API: newS3Client,
	}
}

func (p *Provider) Destination(t domain.DestinationType, settings domain.Settings) (domain.Destination, error) {
	switch t {
	case domain.DestinationLocal:
		if settings.Local.BackupPath == "" {
			return nil, &domain.ValidationError{Field: "local.backupPath", Reason: "is required"}
		}
		return NewLocal(settings.Local.BackupPath), nil

	case domain.DestinationObjectStore:
		store := settings.ObjectStore
		if !store.Configured() {
			return nil, &domain.ValidationError{Field: "objectStore", Reason: "object store is not configured"}
		}
		return NewS3(p.client(store), store.Bucket, store.Endpoint), nil
	}

	return nil, &domain.ValidationError{Field: "destinationType", Reason: "must be one of: local, objectStore"}
}

func (p *Provider) client(settings domain.ObjectStoreSettings) s3API {
	key := clientKey{
		endpoint:  settings.Endpoint,
		region:    settings.Region,
		accessKey: settings.AccessKey,
		secretKey: settings.SecretKey,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c
	}

	// only the client for the current settings is kept
	p.clients = map[clientKey]s3API{key: p.newS3API(settings)}

	return p.clients[key]
}

func newS3Client(settings domain.ObjectStoreSettings) s3API {
	region := settings.Region
	if region == "" {
		region = defaultRegion
	}

	opts := s3.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(settings.AccessKey, settings.SecretKey, ""),
	}

	if settings.Endpoint != "" {
		opts.BaseEndpoint = aws.String(settings.Endpoint)
		opts.UsePathStyle = true
	}

	return s3.New(opts)
}
