package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/relay/internal/emitter"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	orchctx "github.com/Iron-Ham/relay/internal/orchestrator/context"
)

func sampleResult(id string, started time.Time) *orchestrator.Result {
	return &orchestrator.Result{
		SessionID:  id,
		Task:       "sum 2+2",
		StatusCode: emitter.StatusSuccess,
		Output:     "4",
		FinalState: orchestrator.StateTerminated,
		Events: []emitter.Update{
			{AgentName: "Orchestrator", Instructions: "sum 2+2", Steps: []string{"Agents initialized"}, StatusCode: 0},
			{AgentName: "Orchestrator", Instructions: "sum 2+2", Output: "4", StatusCode: 200},
		},
		Records: []orchctx.ExecutionRecord{
			{Round: 1, Worker: "Coder Agent", Instruction: "compute", Success: true, Output: "4", Duration: time.Second},
		},
		Rounds:     1,
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
	}
}

func TestStore_SaveLoad(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "sessions"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	ctx := context.Background()
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if err := store.Save(ctx, sampleResult("abc", started)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load(ctx, "abc")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Output != "4" || got.StatusCode != 200 || got.FinalState != orchestrator.StateTerminated {
		t.Errorf("Load() = %+v, want output 4 status 200 terminated", got)
	}
	if len(got.Events) != 2 || got.Events[1].StatusCode != 200 {
		t.Errorf("Load() events = %+v", got.Events)
	}
	if len(got.Records) != 1 || got.Records[0].Duration != time.Second {
		t.Errorf("Load() records = %+v", got.Records)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	ctx := context.Background()

	res := sampleResult("abc", time.Now())
	if err := store.Save(ctx, res); err != nil {
		t.Fatal(err)
	}
	res.Output = "four"
	if err := store.Save(ctx, res); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load(ctx, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if got.Output != "four" {
		t.Errorf("Output = %q, want %q", got.Output, "four")
	}

	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1 (no temp files left)", len(entries))
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	_, err := store.Load(context.Background(), "missing")
	if !errors.Is(err, &errors.NotFoundError{}) {
		t.Errorf("Load() error = %v, want NotFoundError", err)
	}
	if !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("Load() error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_LoadCorrupted(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	if err := os.WriteFile(filepath.Join(store.Dir(), "bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := store.Load(context.Background(), "bad")
	if !errors.Is(err, ErrSessionCorrupted) {
		t.Errorf("Load() error = %v, want ErrSessionCorrupted", err)
	}
}

func TestStore_List(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"first", "second", "third"} {
		if err := store.Save(ctx, sampleResult(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(store.Dir(), "junk.json"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(store.Dir(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"third", "second", "first"}
	if len(got) != len(want) {
		t.Fatalf("List() returned %d sessions, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("List()[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
	if got[0].Duration != 3*time.Second {
		t.Errorf("Duration = %v, want 3s", got[0].Duration)
	}
}

func TestStore_Delete(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	ctx := context.Background()
	if err := store.Save(ctx, sampleResult("gone", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "gone"); !errors.Is(err, &errors.NotFoundError{}) {
		t.Errorf("second Delete() error = %v, want NotFoundError", err)
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"3f2a9c1e-0d4b-4a51-9d0c-7d0c9b1d2e3f", false},
		{"", true},
		{"../escape", true},
		{"a/b", true},
		{`a\b`, true},
		{".hidden", true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if err := validateID(tt.id); (err != nil) != tt.wantErr {
				t.Errorf("validateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestStore_SaveRejectsBadInput(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	if err := store.Save(context.Background(), nil); err == nil {
		t.Error("Save(nil) should fail")
	}
	if err := store.Save(context.Background(), sampleResult("../x", time.Now())); err == nil {
		t.Error("Save() with a path in the ID should fail")
	}
}
