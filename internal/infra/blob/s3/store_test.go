package s3

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // S3 ETags are MD5 digests
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"testing"

	"kittycore/internal/blob/core"
)

func newMockStore(t *testing.T) (*Store, *MockTransport) {
	t.Helper()
	store, rt, err := NewMock(context.Background(), "kitty-bucket")
	if err != nil {
		t.Fatalf("new mock store: %v", err)
	}
	return store, rt
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _ := newMockStore(t)
	if store.Driver() != core.DriverS3 || store.Bucket() != "kitty-bucket" {
		t.Fatalf("unexpected store identity %s/%s", store.Driver(), store.Bucket())
	}

	payload := []byte(`{"kitty":0}`)
	info, err := store.Put(ctx, "events/0001.json", bytes.NewReader(payload), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"batch": "1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(payload)) || info.ETag == "" || info.ContentType != "application/json" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Metadata["batch"] != "1" {
		t.Fatalf("expected metadata round trip, got %+v", info.Metadata)
	}

	got, rc, err := store.Get(ctx, "events/0001.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil || !bytes.Equal(body, payload) {
		t.Fatalf("unexpected body %q (%v)", body, err)
	}
	if got.ETag != info.ETag {
		t.Fatalf("etag mismatch %s vs %s", got.ETag, info.ETag)
	}

	existed, err := store.Delete(ctx, "events/0001.json")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete(ctx, "events/0001.json")
	if err != nil || existed {
		t.Fatalf("second delete: existed=%v err=%v", existed, err)
	}
}

func TestStorePutRespectsOverwrite(t *testing.T) {
	ctx := context.Background()
	store, rt := newMockStore(t)
	if _, err := store.Put(ctx, "state/ledger.json", bytes.NewReader([]byte("a")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "state/ledger.json", bytes.NewReader([]byte("b")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if rt.Puts() != 1 {
		t.Fatalf("rejected put must not reach the bucket, got %d puts", rt.Puts())
	}
	info, err := store.Put(ctx, "state/ledger.json", bytes.NewReader([]byte("bb")), core.PutOptions{Overwrite: true})
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if info.Size != 2 {
		t.Fatalf("expected overwritten size 2, got %d", info.Size)
	}
}

func TestStoreMissingKeys(t *testing.T) {
	ctx := context.Background()
	store, _ := newMockStore(t)
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Put(ctx, "  ", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestStoreListPaginates(t *testing.T) {
	ctx := context.Background()
	store, rt := newMockStore(t)
	rt.PageSize = 2
	for i := range 5 {
		key := fmt.Sprintf("events/%04d.json", 4-i)
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if _, err := store.Put(ctx, "snapshots/a.json", bytes.NewReader([]byte("y")), core.PutOptions{}); err != nil {
		t.Fatalf("put snapshot: %v", err)
	}

	infos, err := store.List(ctx, "events/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 5 {
		t.Fatalf("expected 5 events, got %d", len(infos))
	}
	for i, info := range infos {
		if want := fmt.Sprintf("events/%04d.json", i); info.Key != want {
			t.Fatalf("entry %d: expected %s, got %s", i, want, info.Key)
		}
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestDecodeAWSChunked(t *testing.T) {
	raw := []byte("5;chunk-signature=abc\r\nhello\r\n3\r\n!!!\r\n0\r\nx-amz-checksum-crc32:xyz\r\n\r\n")
	got, err := decodeAWSChunked(raw)
	if err != nil || string(got) != "hello!!!" {
		t.Fatalf("unexpected decode %q (%v)", got, err)
	}
	if _, err := decodeAWSChunked([]byte("zz\r\n")); err == nil {
		t.Fatal("expected error for bad size line")
	}
	if _, err := decodeAWSChunked([]byte("9\r\nabc\r\n")); err == nil {
		t.Fatal("expected error for short chunk")
	}
}

func TestStoreETagsMatchContentDigest(t *testing.T) {
	ctx := context.Background()
	store, _ := newMockStore(t)
	payload := []byte(`{"seq":7}`)
	sum := md5.Sum(payload) //nolint:gosec // S3 ETags are MD5 digests
	want := hex.EncodeToString(sum[:])

	put, err := store.Put(ctx, "events/0007.json", bytes.NewReader(payload), core.PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	head, err := store.Head(ctx, "events/0007.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	got, body, err := store.Get(ctx, "events/0007.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = body.Close()
	listed, err := store.List(ctx, "events/")
	if err != nil || len(listed) != 1 {
		t.Fatalf("list: %v %+v", err, listed)
	}
	for name, tag := range map[string]string{"put": put.ETag, "head": head.ETag, "get": got.ETag, "list": listed[0].ETag} {
		if tag != want {
			t.Fatalf("%s etag = %q, want %q", name, tag, want)
		}
	}
}
