package database

import (
	"context"
	"testing"
)

func TestGetIdentityStore(t *testing.T) {
	ctx := context.Background()

	store, err := GetIdentityStore(ctx, "file", "faces.csv", 4)
	if err != nil {
		t.Fatalf("GetIdentityStore failed: %v", err)
	}
	if fs, ok := store.(*FileStore); !ok || fs.Path() != "faces.csv" {
		t.Errorf("expected file store at faces.csv, got %#v", store)
	}

	RegisterPostgresBackend(nil)
	if _, err := GetIdentityStore(ctx, "postgres", "", 4); err == nil {
		t.Error("expected error without a registered postgres backend")
	}

	mem := &memoryStore{}
	RegisterPostgresBackend(func() IdentityStore { return mem })
	defer RegisterPostgresBackend(nil)

	if !IsInitialized() {
		t.Error("expected backend to be initialized")
	}
	store, err = GetIdentityStore(ctx, "postgres", "", 4)
	if err != nil {
		t.Fatalf("GetIdentityStore failed: %v", err)
	}
	if store != IdentityStore(mem) {
		t.Error("expected the registered store")
	}
}
