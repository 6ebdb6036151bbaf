package models

import "testing"

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	if err := base.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if base.ID == "" {
		t.Fatal("expected base model ID to be generated")
	}
}

func TestBaseModelBeforeCreateKeepsExistingID(t *testing.T) {
	base := BaseModel{ID: "fixed"}
	if err := base.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if base.ID != "fixed" {
		t.Fatalf("expected ID to be preserved, got %q", base.ID)
	}
}

func TestPendingWriteUsesBaseBeforeCreate(t *testing.T) {
	write := &PendingWrite{Collection: "patients", Operation: "create"}
	if err := write.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if write.ID == "" {
		t.Fatal("expected ID to be generated")
	}
}
