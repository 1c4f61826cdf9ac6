package downloader

import "testing"

func TestPlanChunksSmallFile(t *testing.T) {
	cfg := DefaultConfig()
	plan, err := planChunks(1024, cfg)
	if err != nil {
		t.Fatalf("planChunks: %v", err)
	}
	if len(plan) != 1 {
		t.Fatalf("expected a single whole-file range, got %d", len(plan))
	}
	if plan[0].Start != 0 || plan[0].End != 1023 {
		t.Errorf("unexpected range: %+v", plan[0])
	}
}

func TestPlanChunksLargeFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkThreshold = 50
	cfg.ChunkSize = 40

	plan, err := planChunks(100, cfg)
	if err != nil {
		t.Fatalf("planChunks: %v", err)
	}
	if len(plan) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(plan))
	}
	want := []ChunkRange{{0, 0, 39}, {1, 40, 79}, {2, 80, 99}}
	for i, c := range plan {
		if c != want[i] {
			t.Errorf("chunk %d = %+v, want %+v", i, c, want[i])
		}
	}
	var total int64
	for _, c := range plan {
		total += c.Len()
	}
	if total != 100 {
		t.Errorf("total planned bytes = %d, want 100", total)
	}
}

func TestPlanChunksZeroSize(t *testing.T) {
	plan, err := planChunks(0, DefaultConfig())
	if err != nil {
		t.Fatalf("planChunks: %v", err)
	}
	if len(plan) != 1 || plan[0].Len() != 1 {
		t.Fatalf("expected one zero-length-ish placeholder range, got %+v", plan)
	}
}

func TestPlanChunksNegativeSize(t *testing.T) {
	if _, err := planChunks(-1, DefaultConfig()); err == nil {
		t.Fatal("expected an error for negative size")
	}
}

func TestAssembleOrdersByIndex(t *testing.T) {
	plan := []ChunkRange{{0, 0, 2}, {1, 3, 5}}
	data := map[int][]byte{
		1: []byte("def"),
		0: []byte("abc"),
	}
	got := assemble(data, plan)
	if string(got) != "abcdef" {
		t.Fatalf("assemble = %q, want %q", got, "abcdef")
	}
}
