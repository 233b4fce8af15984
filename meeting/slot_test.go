package meeting

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSlot_ReadMissing(t *testing.T) {
	slot, err := NewFileSlot(filepath.Join(t.TempDir(), "nested"), "meetings")
	if err != nil {
		t.Fatalf("NewFileSlot failed: %v", err)
	}

	data, err := slot.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if data != nil {
		t.Errorf("expected nil data, got %q", data)
	}
}

func TestFileSlot_WriteReplaces(t *testing.T) {
	slot, _ := NewFileSlot(t.TempDir(), "meetings")

	if err := slot.Write(ctx, []byte(`[1]`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := slot.Write(ctx, []byte(`[]`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, _ := slot.Read(ctx)
	if string(data) != `[]` {
		t.Errorf("expected '[]', got %q", data)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(slot.Path()), "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("expected no temp files left behind, got %v", matches)
	}
}

func TestSQLiteSlot_RoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "joules.db")
	slot, err := OpenSQLiteSlot(dbPath, "meetings")
	if err != nil {
		t.Fatalf("OpenSQLiteSlot failed: %v", err)
	}
	defer slot.Close()

	data, err := slot.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if data != nil {
		t.Errorf("expected nil data for unwritten slot, got %q", data)
	}

	store := NewSlotStore(ctx, slot)
	store.Save(ctx, newMeeting("a", 0))
	store.Save(ctx, newMeeting("b", time.Hour))

	reopened, err := OpenSQLiteSlot(dbPath, "meetings")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	meetings, _ := NewSlotStore(ctx, reopened).List()
	if len(meetings) != 2 {
		t.Fatalf("expected 2 meetings, got %d", len(meetings))
	}
	if meetings[0].ID != "b" {
		t.Errorf("expected newest meeting b first, got %s", meetings[0].ID)
	}
	if !meetings[1].Timestamp.Equal(baseTime) {
		t.Errorf("expected timestamp %v, got %v", baseTime, meetings[1].Timestamp)
	}
}

func TestSQLiteSlot_SlotsAreIndependent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "joules.db")
	a, _ := OpenSQLiteSlot(dbPath, "a")
	defer a.Close()
	b, _ := OpenSQLiteSlot(dbPath, "b")
	defer b.Close()

	if err := a.Write(ctx, []byte(`["a"]`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, _ := b.Read(ctx)
	if data != nil {
		t.Errorf("expected slot b to be empty, got %q", data)
	}
}

// updateContract checks the read-modify-write shared by every Slot.
func updateContract(t *testing.T, slot Slot) {
	t.Helper()
	if err := slot.Write(ctx, []byte(`[1]`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	err := slot.Update(ctx, func(current []byte) ([]byte, error) {
		if string(current) != `[1]` {
			t.Errorf("expected current '[1]', got %q", current)
		}
		return []byte(`[1,2]`), nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	boom := errors.New("boom")
	err = slot.Update(ctx, func(current []byte) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}

	data, _ := slot.Read(ctx)
	if string(data) != `[1,2]` {
		t.Errorf("expected '[1,2]', got %q", data)
	}
}

func TestFileSlot_Update(t *testing.T) {
	slot, _ := NewFileSlot(t.TempDir(), "meetings")
	updateContract(t, slot)
}

func TestSQLiteSlot_Update(t *testing.T) {
	slot, err := OpenSQLiteSlot(filepath.Join(t.TempDir(), "joules.db"), "meetings")
	if err != nil {
		t.Fatalf("OpenSQLiteSlot failed: %v", err)
	}
	defer slot.Close()
	updateContract(t, slot)
}
