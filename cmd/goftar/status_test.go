package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/4xmen/goftar/internal/db"
	"github.com/4xmen/goftar/internal/models"
	"github.com/4xmen/goftar/internal/store"
	"github.com/4xmen/goftar/pkg/config"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{input: 0, want: "0 B"},
		{input: 1023, want: "1023 B"},
		{input: 1024, want: "1.0 KiB"},
		{input: 1536, want: "1.5 KiB"},
		{input: 1048576, want: "1.0 MiB"},
	}

	for _, tt := range tests {
		got := formatBytes(tt.input)
		if got != tt.want {
			t.Fatalf("formatBytes(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	if got := formatTimestamp(""); got != "n/a" {
		t.Fatalf("formatTimestamp(empty) = %q, want %q", got, "n/a")
	}

	const ts = "2026-02-18 10:00:00"
	if got := formatTimestamp(ts); got != ts {
		t.Fatalf("formatTimestamp(value) = %q, want %q", got, ts)
	}
}

func TestDirUsage(t *testing.T) {
	root := t.TempDir()

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	file1 := filepath.Join(root, "file1.txt")
	if err := os.WriteFile(file1, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file1: %v", err)
	}

	file2 := filepath.Join(nested, "file2.txt")
	if err := os.WriteFile(file2, []byte("go"), 0o644); err != nil {
		t.Fatalf("write file2: %v", err)
	}

	bytes, files, err := dirUsage(root)
	if err != nil {
		t.Fatalf("dirUsage returned error: %v", err)
	}

	if files != 2 {
		t.Fatalf("dirUsage files = %d, want 2", files)
	}
	if bytes != 7 {
		t.Fatalf("dirUsage bytes = %d, want 7", bytes)
	}
}

func TestParseStatusArgs(t *testing.T) {
	opts, err := parseStatusArgs([]string{"--json"})
	if err != nil {
		t.Fatalf("parseStatusArgs returned error: %v", err)
	}
	if !opts.JSON {
		t.Fatalf("parseStatusArgs JSON = false, want true")
	}

	if _, err := parseStatusArgs([]string{"--bad"}); err == nil {
		t.Fatalf("parseStatusArgs expected error for unknown flag")
	}
}

func TestCollectStatusCounts(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "goftar.db")
	database, err := db.New(dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	s := store.New(database.GetConn())
	ctx := context.Background()
	alice, _ := s.CreateUser(ctx, "alice")
	bob, _ := s.CreateUser(ctx, "bob")
	conv, _, err := s.GetOrCreatePrivate(ctx, alice, bob)
	if err != nil {
		t.Fatalf("failed to create conversation: %v", err)
	}
	msg := &models.Message{ConversationID: conv.ID, SenderID: alice, Type: models.TypeText, Content: "hi", Status: models.StatusSent}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("failed to create message: %v", err)
	}
	if err := s.MarkDeletedForAll(ctx, msg.ID); err != nil {
		t.Fatalf("failed to tombstone message: %v", err)
	}
	database.Close()

	cfg := &config.Config{
		Environment:     "test",
		Port:            "8080",
		DatabasePath:    dbPath,
		FileStoragePath: dir,
	}

	status := collectStatus(cfg)
	if !status.DBMetricsReady {
		t.Fatalf("metrics not ready: %s", status.DBWarning)
	}
	if status.Users != 2 {
		t.Fatalf("Users = %d, want 2", status.Users)
	}
	if status.PrivateConvs != 1 || status.GroupConvs != 0 {
		t.Fatalf("conversations = %d private / %d group, want 1/0", status.PrivateConvs, status.GroupConvs)
	}
	if status.Messages != 1 || status.SentMessages != 1 {
		t.Fatalf("messages = %d (%d sent), want 1 (1 sent)", status.Messages, status.SentMessages)
	}
	if status.DeletedForAll != 1 {
		t.Fatalf("DeletedForAll = %d, want 1", status.DeletedForAll)
	}
}

func TestRunStatusTextOutput(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "goftar.db")
	database, err := db.New(dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	database.Close()

	cfg := &config.Config{
		Environment:     "test",
		Port:            "8080",
		DatabasePath:    dbPath,
		FileStoragePath: dir,
	}

	var out bytes.Buffer
	if err := runStatus(cfg, &out, nil); err != nil {
		t.Fatalf("runStatus returned error: %v", err)
	}
	if !strings.Contains(out.String(), "Goftar Status") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestPrintStatusJSON(t *testing.T) {
	status := appStatus{
		GeneratedAt:     time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC),
		Environment:     "development",
		Port:            "8080",
		DatabasePath:    "/tmp/goftar.db",
		FileStoragePath: "/tmp/uploads",
		Users:           3,
	}

	var out bytes.Buffer
	if err := printStatusJSON(&out, status); err != nil {
		t.Fatalf("printStatusJSON returned error: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}

	if payload["environment"] != "development" {
		t.Fatalf("unexpected environment: %#v", payload["environment"])
	}
}
