// Package state manages CLI state like the last run task.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	stateDir     = ".deskpilot"
	lastTaskFile = "last-task"
)

// getStatePath returns the path to the state directory.
func getStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, stateDir), nil
}

// SaveLastTask saves the task text to ~/.deskpilot/last-task so follow-up
// commands can default to it.
func SaveLastTask(task string) error {
	statePath, err := getStatePath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(statePath, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	filePath := filepath.Join(statePath, lastTaskFile)
	if err := os.WriteFile(filePath, []byte(task+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to save last task: %w", err)
	}

	return nil
}

// GetLastTask reads the last task text from ~/.deskpilot/last-task.
func GetLastTask() (string, error) {
	statePath, err := getStatePath()
	if err != nil {
		return "", err
	}

	filePath := filepath.Join(statePath, lastTaskFile)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no previous task found")
		}
		return "", fmt.Errorf("failed to read last task: %w", err)
	}

	task := strings.TrimSpace(string(data))
	if task == "" {
		return "", fmt.Errorf("last task file is empty")
	}

	return task, nil
}
