package db

import (
	"path/filepath"
	"testing"
)

func newTestClient(t *testing.T) *SQLiteClient {
	t.Helper()
	client, err := NewSQLiteClient(filepath.Join(t.TempDir(), "models.db"))
	if err != nil {
		t.Fatalf("NewSQLiteClient returned error: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRegisterAndListModels(t *testing.T) {
	client := newTestClient(t)

	id, err := client.RegisterModel(ModelRecord{
		Name:        "combat-linear",
		Folder:      "models/run1",
		NSamples:    20,
		NFeatures:   5,
		NSites:      2,
		SmoothTerms: "",
	})
	if err != nil {
		t.Fatalf("RegisterModel returned error: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero row id")
	}

	if _, err := client.RegisterModel(ModelRecord{
		Name:        "combat-smooth",
		Folder:      "models/run2",
		NSamples:    30,
		NFeatures:   2,
		NSites:      2,
		SmoothTerms: "age",
	}); err != nil {
		t.Fatalf("RegisterModel returned error: %v", err)
	}

	records, err := client.ListModels()
	if err != nil {
		t.Fatalf("ListModels returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("listed %d models, expected 2", len(records))
	}

	rec, err := client.GetModelByFolder("models/run2")
	if err != nil {
		t.Fatalf("GetModelByFolder returned error: %v", err)
	}
	if rec == nil || rec.Name != "combat-smooth" || rec.SmoothTerms != "age" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	missing, err := client.GetModelByFolder("models/none")
	if err != nil {
		t.Fatalf("GetModelByFolder returned error: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for an unknown folder, got %+v", missing)
	}
}

func TestRegisterModelDuplicateFolder(t *testing.T) {
	client := newTestClient(t)

	rec := ModelRecord{Name: "combat", Folder: "models/dup", NSamples: 10, NFeatures: 3, NSites: 2}
	if _, err := client.RegisterModel(rec); err != nil {
		t.Fatalf("RegisterModel returned error: %v", err)
	}
	if _, err := client.RegisterModel(rec); err == nil {
		t.Fatal("expected error when registering the same folder twice")
	}
}
