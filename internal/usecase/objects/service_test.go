package objects

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kailas-cloud/docsearch/internal/blob"
	"github.com/kailas-cloud/docsearch/internal/domain"
)

type mockStore struct {
	putFn  func(ctx context.Context, in blob.PutInput) (blob.ObjectInfo, error)
	listFn func(ctx context.Context, bucket, prefix string) ([]blob.ObjectInfo, error)
}

func (m *mockStore) Put(ctx context.Context, in blob.PutInput) (blob.ObjectInfo, error) {
	return m.putFn(ctx, in)
}

func (m *mockStore) List(ctx context.Context, bucket, prefix string) ([]blob.ObjectInfo, error) {
	return m.listFn(ctx, bucket, prefix)
}

func TestUpload_TagsDepartment(t *testing.T) {
	var got blob.PutInput
	store := &mockStore{putFn: func(_ context.Context, in blob.PutInput) (blob.ObjectInfo, error) {
		got = in
		return blob.ObjectInfo{Bucket: in.Bucket, Key: in.Key, Size: int64(len(in.Body))}, nil
	}}
	svc := New(store, "raw", "", 0)

	info, err := svc.Upload(context.Background(), UploadInput{
		Key: "sales/report.txt", Body: []byte("hi"), ContentType: "text/plain", Department: "sales",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Bucket != "raw" || got.Tags["department"] != "sales" || got.ContentType != "text/plain" {
		t.Errorf("put = %+v", got)
	}
	if info.Size != 2 {
		t.Errorf("info = %+v", info)
	}
}

func TestUpload_Validation(t *testing.T) {
	store := &mockStore{putFn: func(context.Context, blob.PutInput) (blob.ObjectInfo, error) {
		t.Fatal("store must not be called")
		return blob.ObjectInfo{}, nil
	}}
	svc := New(store, "raw", "department", 4)

	tests := []struct {
		name string
		in   UploadInput
		want error
	}{
		{"empty key", UploadInput{Key: " ", Department: "sales"}, ErrInvalidKey},
		{"leading slash", UploadInput{Key: "/sales/a.txt", Department: "sales"}, ErrInvalidKey},
		{"dot dot", UploadInput{Key: "sales/../hr/a.txt", Department: "sales"}, ErrInvalidKey},
		{"too long", UploadInput{Key: strings.Repeat("a", 1025), Department: "sales"}, ErrInvalidKey},
		{"no department", UploadInput{Key: "sales/a.txt"}, domain.ErrScopeRequired},
		{"too large", UploadInput{Key: "sales/a.txt", Body: []byte("12345"), Department: "sales"}, ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Upload(context.Background(), tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestUpload_StoreError(t *testing.T) {
	store := &mockStore{putFn: func(context.Context, blob.PutInput) (blob.ObjectInfo, error) {
		return blob.ObjectInfo{}, domain.ErrObjectStoreUnavailable
	}}
	_, err := New(store, "raw", "", 0).Upload(context.Background(), UploadInput{Key: "sales/a.txt", Department: "sales"})
	if !errors.Is(err, domain.ErrObjectStoreUnavailable) {
		t.Fatalf("expected ErrObjectStoreUnavailable, got %v", err)
	}
}

func TestList(t *testing.T) {
	store := &mockStore{listFn: func(_ context.Context, bucket, prefix string) ([]blob.ObjectInfo, error) {
		if bucket != "raw" || prefix != "sales/" {
			t.Errorf("list %s %s", bucket, prefix)
		}
		return []blob.ObjectInfo{{Key: "sales/a.txt"}}, nil
	}}
	infos, err := New(store, "raw", "", 0).List(context.Background(), "sales/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 1 || infos[0].Key != "sales/a.txt" {
		t.Errorf("infos = %+v", infos)
	}
}
