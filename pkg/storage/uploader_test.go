package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/Sternrassler/socrata-ingest/pkg/table"
)

// failingStore returns err from every write.
type failingStore struct {
	*LocalStore
	err error
}

func (s failingStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	return s.err
}

func TestDirectory_Key(t *testing.T) {
	tests := []struct {
		dir  Directory
		name string
		want string
	}{
		{Directory{Bucket: "b", Path: "Crime2019_to_Present"}, "x.csv", "Crime2019_to_Present/x.csv"},
		{Directory{Bucket: "b", Path: "/Socioeconomic Areas/"}, "x.csv", "Socioeconomic Areas/x.csv"},
		{Directory{Bucket: "b"}, "x.csv", "x.csv"},
	}

	for _, tt := range tests {
		if got := tt.dir.Key(tt.name); got != tt.want {
			t.Errorf("%+v.Key(%q) = %q, want %q", tt.dir, tt.name, got, tt.want)
		}
	}
}

func TestUploader_Upload(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())
	u := NewUploader(store)
	dir := Directory{Bucket: "data-engineering-project", Path: "Crime2019_to_Present"}

	if err := u.EnsureDirectory(ctx, dir); err != nil {
		t.Fatalf("EnsureDirectory() error = %v", err)
	}

	in := sampleTable()
	key, err := u.Upload(ctx, dir, in, "Crimes_2019-01-01_to_2019-01-03")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if key != "Crime2019_to_Present/Crimes_2019-01-01_to_2019-01-03.csv" {
		t.Errorf("key = %q", key)
	}

	data, err := store.GetObject(ctx, dir.Bucket, key)
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	want, _ := in.MarshalCSV()
	if string(data) != string(want) {
		t.Errorf("object content = %q, want %q", data, want)
	}
}

func TestUploader_UploadKeepsCSVSuffix(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())
	u := NewUploader(store)
	dir := Directory{Bucket: "bucket", Path: "dir"}
	u.EnsureDirectory(ctx, dir)

	key, err := u.Upload(ctx, dir, sampleTable(), "already.csv")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if key != "dir/already.csv" {
		t.Errorf("key = %q, want dir/already.csv", key)
	}
}

func TestUploader_UploadOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())
	u := NewUploader(store)
	dir := Directory{Bucket: "bucket", Path: "dir"}
	u.EnsureDirectory(ctx, dir)

	u.Upload(ctx, dir, sampleTable(), "same")
	second := &table.Table{Columns: []string{"a"}, Rows: [][]string{{"1"}}}
	if _, err := u.Upload(ctx, dir, second, "same"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	keys, err := store.ListPrefix(ctx, "bucket", "dir")
	if err != nil {
		t.Fatalf("ListPrefix() error = %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"dir/same.csv"}) {
		t.Errorf("keys = %v", keys)
	}
	data, _ := store.GetObject(ctx, "bucket", "dir/same.csv")
	if string(data) != "a\n1\n" {
		t.Errorf("content = %q, want overwritten object", data)
	}
}

func TestUploader_UploadMissingBucket(t *testing.T) {
	u := NewUploader(NewLocalStore(t.TempDir()))

	_, err := u.Upload(context.Background(), Directory{Bucket: "missing", Path: "dir"}, sampleTable(), "x")

	var uerr *UploadError
	if !errors.As(err, &uerr) || uerr.Code != CodeBucketNotFound {
		t.Fatalf("error = %v, want %s", err, CodeBucketNotFound)
	}
}

func TestUploader_UploadErrors(t *testing.T) {
	tests := []struct {
		name             string
		storeErr         error
		wantCode         string
		wantUnauthorized bool
	}{
		{
			name:             "invalid credentials",
			storeErr:         wrapError(CodeAuthInvalid, false, errors.New("InvalidAccessKeyId")),
			wantCode:         CodeAuthInvalid,
			wantUnauthorized: true,
		},
		{
			name:             "access denied",
			storeErr:         wrapError(CodePermissionDenied, false, errors.New("AccessDenied")),
			wantCode:         CodePermissionDenied,
			wantUnauthorized: true,
		},
		{
			name:     "endpoint unreachable",
			storeErr: wrapError(CodeEndpointUnreachable, true, errors.New("connection refused")),
			wantCode: CodeEndpointUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			store := &countingStore{failingStore: failingStore{LocalStore: NewLocalStore(t.TempDir()), err: tt.storeErr}, calls: &calls}
			u := NewUploader(store)

			_, err := u.Upload(context.Background(), Directory{Bucket: "b", Path: "d"}, sampleTable(), "x")

			var uerr *UploadError
			if !errors.As(err, &uerr) {
				t.Fatalf("error = %v, want *UploadError", err)
			}
			if uerr.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", uerr.Code, tt.wantCode)
			}
			if got := errors.Is(err, ErrUnauthorized); got != tt.wantUnauthorized {
				t.Errorf("errors.Is(ErrUnauthorized) = %v, want %v", got, tt.wantUnauthorized)
			}
			if calls != 1 {
				t.Errorf("PutObject calls = %d, want 1 (no internal retry)", calls)
			}
		})
	}
}

type countingStore struct {
	failingStore
	calls *int
}

func (s *countingStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	*s.calls++
	return s.failingStore.PutObject(ctx, bucket, key, data, contentType)
}

func TestUploader_EmptyName(t *testing.T) {
	u := NewUploader(NewLocalStore(t.TempDir()))
	if _, err := u.Upload(context.Background(), Directory{Bucket: "b"}, sampleTable(), " "); err == nil {
		t.Error("Upload() with empty name should fail")
	}
}
