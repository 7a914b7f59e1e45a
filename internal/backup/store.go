package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ignite/leadmap-mailflow/internal/domain"
)

// MemoryStore keeps backups in process.
type MemoryStore struct {
	mu      sync.RWMutex
	backups map[string]domain.Backup
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{backups: make(map[string]domain.Backup)}
}

func (m *MemoryStore) Put(_ context.Context, b *domain.Backup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	cp.Messages = append([]domain.MailMessage(nil), b.Messages...)
	m.backups[b.ID] = cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*domain.Backup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backups[id]
	if !ok {
		return nil, nil
	}
	b.Messages = append([]domain.MailMessage(nil), b.Messages...)
	return &b, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.backups, id)
	return nil
}

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps each backup as a JSON object at {prefix}{id}.json.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Store returns a store writing to bucket under prefix ("backups/"
// when empty).
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	if prefix == "" {
		prefix = "backups/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(id string) string { return s.prefix + id + ".json" }

func (s *S3Store) Put(ctx context.Context, b *domain.Backup) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshaling backup: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(b.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting backup to S3: %w", err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, id string) (*domain.Backup, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting backup from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading backup body: %w", err)
	}
	var b domain.Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshaling backup: %w", err)
	}
	return &b, nil
}

func (s *S3Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("deleting backup from S3: %w", err)
	}
	return nil
}
