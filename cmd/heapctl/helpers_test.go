package main

import (
	"bytes"
	"os"
	"testing"
)

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	return buf.String(), fnErr
}

// runCmd executes the root command with args and captures stdout
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	verbose, quiet, jsonOut, logDir = false, false, false, ""
	rootCmd.SetArgs(args)
	return captureOutput(t, rootCmd.Execute)
}
