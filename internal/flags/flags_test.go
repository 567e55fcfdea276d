package flags

import (
	"testing"
)

func TestSetAndGet(t *testing.T) {
	orig := Get()
	t.Cleanup(func() { Set(orig) })

	f := Flags{EnableCrawl: false, EnableRegionSweep: true, EnableEmbedding: false, EnableUpdateQueue: true, ReadOnlyMode: true}
	Set(f)
	got := Get()
	if got != f {
		t.Fatalf("Get after Set mismatch: got %+v want %+v", got, f)
	}
}

func TestUpdateFromJSON_MergeKnownKeys(t *testing.T) {
	orig := Get()
	t.Cleanup(func() { Set(orig) })

	Set(Flags{})
	payload := []byte(`{"enable_crawl": true, "enable_embedding": true, "read_only_mode": true, "unknown": 123}`)
	if err := UpdateFromJSON(payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := Get()
	if !got.EnableCrawl || !got.EnableEmbedding || !got.ReadOnlyMode {
		t.Fatalf("merge failed, got %+v", got)
	}
	if got.EnableRegionSweep || got.EnableUpdateQueue {
		t.Fatalf("unrelated flags mutated: %+v", got)
	}
}

func TestUpdateFromJSON_BadJSON(t *testing.T) {
	orig := Get()
	t.Cleanup(func() { Set(orig) })

	if err := UpdateFromJSON([]byte("{")); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}
