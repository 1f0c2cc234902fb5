package destination

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yurykabanov/pgbackuper/pkg/domain"
)

// region s3APIMock
type s3APIMock struct {
	mock.Mock
}

func (m *s3APIMock) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*s3.PutObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *s3APIMock) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*s3.GetObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *s3APIMock) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*s3.DeleteObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

// endregion

// region Test: Local
func TestLocal_WriteOpenDelete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "backups")
	l := NewLocal(dir)

	locator, err := l.Write(context.Background(), "daily_backup_20250527T020000Z_1.sql", strings.NewReader("CREATE TABLE a;"))

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "daily_backup_20250527T020000Z_1.sql"), locator)
	assert.True(t, filepath.IsAbs(locator))
	assert.NoFileExists(t, locator+partialSuffix)

	rc, err := l.Open(context.Background(), locator)
	require.NoError(t, err)
	content, err := ioutil.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "CREATE TABLE a;", string(content))

	require.NoError(t, l.Delete(context.Background(), locator))
	assert.NoFileExists(t, locator)

	assert.NoError(t, l.Delete(context.Background(), locator))
}

func TestLocal_Write_RefusesExisting(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir)

	_, err := l.Write(context.Background(), "a.sql", strings.NewReader("first"))
	require.NoError(t, err)

	_, err = l.Write(context.Background(), "a.sql", strings.NewReader("second"))
	assert.Error(t, err)

	content, err := ioutil.ReadFile(filepath.Join(dir, "a.sql"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(content))
}

func TestLocal_Write_CancelledLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Write(ctx, "a.sql", strings.NewReader("data"))
	assert.True(t, errors.Is(err, context.Canceled))

	entries, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocal_InvalidNames(t *testing.T) {
	l := NewLocal(t.TempDir())

	for _, name := range []string{"", ".", "..", "../escape.sql", "a/b.sql"} {
		_, err := l.Write(context.Background(), name, strings.NewReader("x"))
		assert.Error(t, err, name)
	}

	_, err := l.Open(context.Background(), "relative.sql")
	assert.Error(t, err)
}

func TestLocal_Write_UnwritableBase(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, ioutil.WriteFile(file, []byte("x"), 0600))

	_, err := NewLocal(filepath.Join(file, "sub")).Write(context.Background(), "a.sql", strings.NewReader("x"))

	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(file, "sub"))
	assert.Error(t, statErr)
}

// endregion

// region Test: S3
func TestS3_Write(t *testing.T) {
	client := &s3APIMock{}
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "backups" &&
			aws.ToString(in.Key) == "postgresql-backups/manual_backup_20250526T100000Z_3.sql.gz" &&
			aws.ToString(in.ContentType) == "application/gzip"
	})).Return(&s3.PutObjectOutput{}, nil)

	d := NewS3(client, "backups", "https://s3.example.com")

	locator, err := d.Write(context.Background(), "manual_backup_20250526T100000Z_3.sql.gz", strings.NewReader("x"))

	require.NoError(t, err)
	assert.Equal(t, "s3://backups/postgresql-backups/manual_backup_20250526T100000Z_3.sql.gz", locator)
	client.AssertExpectations(t)
}

func TestS3_Write_Unreachable(t *testing.T) {
	client := &s3APIMock{}
	client.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: connection refused"))

	d := NewS3(client, "backups", "https://s3.example.com")

	_, err := d.Write(context.Background(), "a.sql", strings.NewReader("x"))

	var connErr *domain.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "https://s3.example.com", connErr.Target)
}

func TestS3_OpenDelete(t *testing.T) {
	client := &s3APIMock{}
	client.On("GetObject", mock.Anything, &s3.GetObjectInput{Bucket: aws.String("b"), Key: aws.String("postgresql-backups/a.sql")}).
		Return(&s3.GetObjectOutput{Body: ioutil.NopCloser(strings.NewReader("content"))}, nil)
	client.On("DeleteObject", mock.Anything, &s3.DeleteObjectInput{Bucket: aws.String("b"), Key: aws.String("postgresql-backups/a.sql")}).
		Return(&s3.DeleteObjectOutput{}, nil)

	d := NewS3(client, "b", "")

	rc, err := d.Open(context.Background(), "s3://b/postgresql-backups/a.sql")
	require.NoError(t, err)
	content, _ := ioutil.ReadAll(rc)
	assert.Equal(t, "content", string(content))

	assert.NoError(t, d.Delete(context.Background(), "s3://b/postgresql-backups/a.sql"))
	client.AssertExpectations(t)

	assert.Error(t, d.Delete(context.Background(), "/var/backups/a.sql"))
}

func TestParseLocator(t *testing.T) {
	bucket, key, err := ParseLocator("s3://my-bucket/postgresql-backups/x.sql")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "postgresql-backups/x.sql", key)

	for _, bad := range []string{"", "s3://", "s3://bucket", "s3://bucket/", "s3:///key", "http://bucket/key"} {
		_, _, err := ParseLocator(bad)
		assert.Error(t, err, bad)
	}
}

// endregion

func TestProvider_Destination(t *testing.T) {
	built := 0

	p := NewProvider()
	p.newS3API = func(domain.ObjectStoreSettings) s3API {
		built++
		return &s3APIMock{}
	}

	settings := domain.DefaultSettings()

	local, err := p.Destination(domain.DestinationLocal, settings)
	require.NoError(t, err)
	assert.IsType(t, &Local{}, local)

	_, err = p.Destination(domain.DestinationObjectStore, settings)
	assert.True(t, domain.IsValidation(err))

	settings.ObjectStore = domain.ObjectStoreSettings{AccessKey: "k", SecretKey: "s", Bucket: "b"}

	remote, err := p.Destination(domain.DestinationObjectStore, settings)
	require.NoError(t, err)
	assert.IsType(t, &S3{}, remote)

	_, err = p.Destination(domain.DestinationObjectStore, settings)
	require.NoError(t, err)
	assert.Equal(t, 1, built)

	settings.ObjectStore.SecretKey = "rotated"
	_, err = p.Destination(domain.DestinationObjectStore, settings)
	require.NoError(t, err)
	assert.Equal(t, 2, built)

	_, err = p.Destination("ftp", settings)
	assert.True(t, domain.IsValidation(err))
}
