package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/open-assoc/portal-go/internal/model"
	"github.com/open-assoc/portal-go/internal/store"
	"github.com/open-assoc/portal-go/internal/testutil"
)

func TestHandlerWritesWarningsToAuditLog(t *testing.T) {
	db, cleanup := testutil.TestDB(t)
	defer cleanup()

	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})
	logger := slog.New(NewAuditLogHandler(inner, db))

	logger.Warn("suspicious login attempt", "category", model.AuditCategoryAuth, "ip", "10.0.0.1")
	logger.Info("routine message") // below threshold, not persisted

	q := store.New(db)
	events, err := q.ListRecentAuditEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecentAuditEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(events))
	}

	e := events[0]
	if e.Level != model.AuditLevelWarning {
		t.Errorf("Level = %q, want warning", e.Level)
	}
	if e.Category != model.AuditCategoryAuth {
		t.Errorf("Category = %q, want auth", e.Category)
	}
	if e.Message != "suspicious login attempt" {
		t.Errorf("Message = %q", e.Message)
	}
}

func TestCategoryInference(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"login failed", model.AuditCategoryAuth},
		{"profile hydration failed", model.AuditCategoryMembership},
		{"event capacity reached", model.AuditCategoryEvent},
		{"message delivery failed", model.AuditCategoryMessage},
		{"disk almost full", model.AuditCategorySystem},
	}

	for _, tt := range tests {
		r := slog.Record{Message: tt.message}
		if got := extractCategory(r); got != tt.want {
			t.Errorf("extractCategory(%q) = %q, want %q", tt.message, got, tt.want)
		}
	}
}

func TestExtractMetadata(t *testing.T) {
	var r slog.Record
	r.Message = "test"
	r.AddAttrs(
		slog.String("category", "auth"),
		slog.String("ip", "10.0.0.1"),
		slog.String("note", `line"break`),
	)

	got := extractMetadata(r)
	if got == "{}" {
		t.Fatal("metadata should not be empty")
	}
	if want := `"ip":"10.0.0.1"`; !strings.Contains(got, want) {
		t.Errorf("metadata %q missing %q", got, want)
	}
	if strings.Contains(got, `"category"`) {
		t.Error("category attribute should be excluded from metadata")
	}
	if !strings.Contains(got, `\"`) {
		t.Error("quote should be escaped")
	}
}
