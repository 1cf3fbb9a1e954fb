package blocktree

import "testing"

func TestEngineInsertSearchDelete(t *testing.T) {
	eng, err := InitMem(256, 32)
	if err != nil {
		t.Fatalf("InitMem() error = %v", err)
	}
	defer eng.Close()

	tests := []struct {
		key, value uint64
	}{
		{1, 11}, {2, 22}, {3, 33},
	}
	for _, tt := range tests {
		if err := eng.Insert(tt.key, tt.value); err != nil {
			t.Fatalf("Insert(%d, %d) error = %v", tt.key, tt.value, err)
		}
	}
	for _, tt := range tests {
		v, found, err := eng.Search(tt.key)
		if err != nil || !found || v != tt.value {
			t.Errorf("Search(%d) = (%d, %v, %v), want (%d, true, nil)", tt.key, v, found, err, tt.value)
		}
	}

	if err := eng.Delete(2); err != nil {
		t.Fatalf("Delete(2) error = %v", err)
	}
	if _, found, _ := eng.Search(2); found {
		t.Errorf("Search(2) after Delete(2) found = true, want false")
	}
}

func TestEngineSyncAndFsync(t *testing.T) {
	eng, err := InitMem(64, 16)
	if err != nil {
		t.Fatalf("InitMem() error = %v", err)
	}
	defer eng.Close()

	if err := eng.Insert(7, 70); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := eng.Fsync(); err != nil {
		t.Fatalf("Fsync() error = %v", err)
	}
	if err := eng.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
}

func TestEngineDiagnosticHelpers(t *testing.T) {
	eng, err := InitMem(256, 32)
	if err != nil {
		t.Fatalf("InitMem() error = %v", err)
	}
	defer eng.Close()

	for i := uint64(1); i <= 10; i++ {
		if err := eng.Insert(i, i); err != nil {
			t.Fatalf("Insert(%d) error = %v", i, err)
		}
	}

	min, err := eng.FindMinimum()
	if err != nil || min != 1 {
		t.Errorf("FindMinimum() = (%d, %v), want (1, nil)", min, err)
	}
	max, err := eng.FindMaximum()
	if err != nil || max != 10 {
		t.Errorf("FindMaximum() = (%d, %v), want (10, nil)", max, err)
	}
	if _, err := eng.Depth(); err != nil {
		t.Errorf("Depth() error = %v", err)
	}
	if _, err := eng.Height(); err != nil {
		t.Errorf("Height() error = %v", err)
	}
}
