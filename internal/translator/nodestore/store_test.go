package nodestore

import (
	"path/filepath"
	"testing"
)

func TestAddAndAll(t *testing.T) {
	t.Parallel()

	store, err := Open(filepath.Join(t.TempDir(), "nodes.sqlite"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	for _, id := range []string{"20", "21", "20"} {
		if err := store.Add(id); err != nil {
			t.Fatalf("Add(%s) error = %v", id, err)
		}
	}

	ids, err := store.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}

	if len(ids) != 2 {
		t.Fatalf("All() = %v, want two distinct ids", ids)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nodes.sqlite")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := store.Add("20"); err != nil {
		t.Fatal(err)
	}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	ids, err := reopened.All()
	if err != nil {
		t.Fatal(err)
	}

	if len(ids) != 1 || ids[0] != "20" {
		t.Errorf("All() after reopen = %v, want [20]", ids)
	}
}
