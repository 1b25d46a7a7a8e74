package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/event-projector/internal/config"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLocal_ListAndOpen(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "2024-01-01.jsonl", "a\n")
	writeFile(t, dir, "notes.txt", "b\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive"), 0o755))

	src := NewLocal(dir)
	names, err := src.List(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2024-01-01.jsonl", "notes.txt"}, names)

	rc, err := src.Open(context.Background(), "2024-01-01.jsonl")
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(b))
}

func TestLocal_OpenStaysInsideRoot(t *testing.T) {
	dir := t.TempDir()
	_, err := NewLocal(dir).Open(context.Background(), "../../etc/passwd")
	assert.Error(t, err)
}

func TestLocal_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocal(t.TempDir()).List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMirror_CopiesOnlyFullyReadFiles(t *testing.T) {
	remote := t.TempDir()
	mirrorDir := filepath.Join(t.TempDir(), "raw", "events")
	writeFile(t, remote, "2024-01-01.jsonl", "line-1\nline-2\n")
	writeFile(t, remote, "2024-01-02.jsonl", "line-3\n")

	m, err := NewMirror(NewLocal(remote), mirrorDir)
	require.NoError(t, err)
	ctx := context.Background()

	full, err := m.Open(ctx, "2024-01-01.jsonl")
	require.NoError(t, err)
	_, err = io.ReadAll(full)
	require.NoError(t, err)
	require.NoError(t, full.Close())

	partial, err := m.Open(ctx, "2024-01-02.jsonl")
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = partial.Read(buf)
	require.NoError(t, err)
	require.NoError(t, partial.Close())

	got, err := os.ReadFile(filepath.Join(mirrorDir, "2024-01-01.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, "line-1\nline-2\n", string(got))

	_, err = os.Stat(filepath.Join(mirrorDir, "2024-01-02.jsonl"))
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(mirrorDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

type fakeS3 struct {
	pages   []*s3.ListObjectsV2Output
	calls   int
	objects map[string]string
	lastKey string
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := f.pages[f.calls]
	f.calls++
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastKey = aws.ToString(in.Key)
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.objects[f.lastKey]))}, nil
}

func TestS3Source_ListPagesAndTrimsPrefix(t *testing.T) {
	fake := &fakeS3{
		pages: []*s3.ListObjectsV2Output{
			{
				Contents: []types.Object{
					{Key: aws.String("events/2024-01-01.jsonl")},
					{Key: aws.String("events/archive/2023-12-31.jsonl")},
				},
				IsTruncated:           aws.Bool(true),
				NextContinuationToken: aws.String("t1"),
			},
			{
				Contents: []types.Object{
					{Key: aws.String("events/2024-01-02.jsonl")},
				},
				IsTruncated: aws.Bool(false),
			},
		},
		objects: map[string]string{"events/2024-01-02.jsonl": "payload"},
	}
	src := newS3Source(fake, "bucket", "events")

	names, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01.jsonl", "2024-01-02.jsonl"}, names)

	rc, err := src.Open(context.Background(), "2024-01-02.jsonl")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "payload", string(b))
	assert.Equal(t, "events/2024-01-02.jsonl", fake.lastKey)
}

func TestNewFactory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "2024-01-01.jsonl", "x\n")

	open, err := NewFactory(config.SourceConfig{Kind: config.SourceLocal, Dir: dir})
	require.NoError(t, err)
	src, err := open(context.Background())
	require.NoError(t, err)
	names, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01.jsonl"}, names)

	_, err = NewFactory(config.SourceConfig{Kind: "ftp"})
	assert.Error(t, err)
}
