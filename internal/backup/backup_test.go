package backup

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/leadmap-mailflow/internal/domain"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[*in.Bucket+"/"+*in.Key] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func sampleMessages() []domain.MailMessage {
	at := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	return []domain.MailMessage{
		{MessageID: "<a1@example.com>", From: "ada@example.com", To: []string{"bo@example.com"}, Subject: "Q2 leads", Body: "see attached", ReceivedAt: at},
		{MessageID: "<a2@example.com>", From: "bo@example.com", To: []string{"ada@example.com"}, Subject: "Re: Q2 leads", Headers: map[string]string{"In-Reply-To": "<a1@example.com>"}, ReceivedAt: at.Add(time.Hour)},
	}
}

func messageIDs(msgs []domain.MailMessage) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.MessageID
	}
	return ids
}

func stores() map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"s3":     NewS3Store(newFakeS3(), "mailflow-backups", ""),
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	for name, store := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := NewService(store)

			orig, err := svc.CreateBackup(ctx, "inbox", sampleMessages())
			require.NoError(t, err)

			data, err := svc.ExportToJSON(ctx, orig.ID)
			require.NoError(t, err)

			imported, err := svc.ImportFromJSON(ctx, data)
			require.NoError(t, err)
			assert.NotEqual(t, orig.ID, imported.ID)

			want, err := svc.RestoreBackup(ctx, orig.ID)
			require.NoError(t, err)
			got, err := svc.RestoreBackup(ctx, imported.ID)
			require.NoError(t, err)
			assert.Equal(t, messageIDs(want), messageIDs(got))
			assert.Equal(t, want, got)
		})
	}
}

func TestRestoreUnknownBackup(t *testing.T) {
	for name, store := range stores() {
		t.Run(name, func(t *testing.T) {
			svc := NewService(store)
			_, err := svc.RestoreBackup(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, svc.DeleteBackup(context.Background(), "nope"), ErrNotFound)
			_, err = svc.ExportToJSON(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)

			b, err := svc.GetBackup(context.Background(), "nope")
			assert.NoError(t, err)
			assert.Nil(t, b)
		})
	}
}

func TestDeleteBackup(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewS3Store(newFakeS3(), "b", "snapshots"))

	b, err := svc.CreateBackup(ctx, "", sampleMessages())
	require.NoError(t, err)
	assert.Contains(t, b.Name, "backup-")

	require.NoError(t, svc.DeleteBackup(ctx, b.ID))
	got, err := svc.GetBackup(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestImportRejectsGarbage(t *testing.T) {
	svc := NewService(NewMemoryStore())
	_, err := svc.ImportFromJSON(context.Background(), []byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidBackup)
	_, err = svc.ImportFromJSON(context.Background(), []byte(`{"name":"x"}`))
	assert.ErrorIs(t, err, ErrInvalidBackup)
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())
	msgs := sampleMessages()
	b, err := svc.CreateBackup(ctx, "x", msgs)
	require.NoError(t, err)

	msgs[0].MessageID = "<mutated>"
	restored, err := svc.RestoreBackup(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "<a1@example.com>", restored[0].MessageID)
}
