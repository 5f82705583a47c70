package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndGetLastTask(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	task := "export the quarterly report as pdf"

	if err := SaveLastTask(task); err != nil {
		t.Fatalf("SaveLastTask failed: %v", err)
	}

	expectedPath := filepath.Join(tmpDir, stateDir, lastTaskFile)
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Fatalf("Expected file %s to exist", expectedPath)
	}

	got, err := GetLastTask()
	if err != nil {
		t.Fatalf("GetLastTask failed: %v", err)
	}

	if got != task {
		t.Errorf("GetLastTask = %q, want %q", got, task)
	}
}

func TestGetLastTask_NoFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	if _, err := GetLastTask(); err == nil {
		t.Error("GetLastTask should return error when no file exists")
	}
}

func TestGetLastTask_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	dir := filepath.Join(tmpDir, stateDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, lastTaskFile), []byte(""), 0644); err != nil {
		t.Fatalf("Failed to create empty file: %v", err)
	}

	if _, err := GetLastTask(); err == nil {
		t.Error("GetLastTask should return error for empty file")
	}
}
