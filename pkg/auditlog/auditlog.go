// Package auditlog records every agent invocation of a workflow run to
// durable per-session markdown files.
//
// The log is a debugging side channel, not a load-bearing store: callers
// are expected to log storage failures and continue, never to let them
// mask the workflow's own outcome.
package auditlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNoSession is returned when a record is appended before StartSession.
// This is a programming error in the caller, not a runtime condition.
var ErrNoSession = errors.New("auditlog: StartSession must be called before LogAgentResponse")

const sessionInfoFile = "00_session_info.md"

// Logger records one workflow run. One Logger per run; not safe for
// concurrent use by multiple runs.
type Logger struct {
	baseDir    string
	sessionDir string
	sessionKey string
	counter    int
}

// New creates a logger rooted at baseDir.
func New(baseDir string) *Logger {
	if baseDir == "" {
		baseDir = "logs"
	}
	return &Logger{baseDir: baseDir}
}

// StartSession creates a fresh session directory keyed by a sortable
// timestamp plus a random suffix (timestamps alone collide under
// concurrent runs) and writes the initial session record.
func (l *Logger) StartSession(userID, userMessage string) (string, error) {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	l.sessionKey = fmt.Sprintf("%s_%s", timestamp, uuid.NewString()[:8])
	l.sessionDir = filepath.Join(l.baseDir, l.sessionKey)
	l.counter = 0

	if err := os.MkdirAll(l.sessionDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session: %s\n\n", l.sessionKey)
	b.WriteString("## Session Info\n\n")
	fmt.Fprintf(&b, "- **User:** %s\n", userID)
	fmt.Fprintf(&b, "- **Started:** %s\n\n", time.Now().Format(time.RFC3339))
	b.WriteString("## Original Message\n\n")
	fmt.Fprintf(&b, "```\n%s\n```\n\n---\n\n## Executed Agents\n\nOne file per agent invocation in this directory.\n", userMessage)

	path := filepath.Join(l.sessionDir, sessionInfoFile)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write session info: %w", err)
	}

	return l.sessionDir, nil
}

// LogAgentResponse appends a sequentially numbered record for one agent
// invocation. Returns the path of the created file.
func (l *Logger) LogAgentResponse(agentName, rawResponse string, parsedResponse map[string]any, inputText string, executionTimeMS float64) (string, error) {
	if l.sessionDir == "" {
		return "", ErrNoSession
	}

	l.counter++
	filename := fmt.Sprintf("%02d_%s.md", l.counter, agentName)
	path := filepath.Join(l.sessionDir, filename)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", agentName)
	fmt.Fprintf(&b, "**Executed:** %s\n", time.Now().Format(time.RFC3339))
	if executionTimeMS > 0 {
		fmt.Fprintf(&b, "**Execution time:** %.2f ms\n", executionTimeMS)
	}
	b.WriteString("\n---\n\n")

	if inputText != "" {
		fmt.Fprintf(&b, "## Input\n\n```\n%s\n```\n\n", inputText)
	}

	fmt.Fprintf(&b, "## Raw Response\n\n```\n%s\n```\n\n", rawResponse)

	if len(parsedResponse) > 0 {
		pretty, err := json.MarshalIndent(parsedResponse, "", "  ")
		if err == nil {
			fmt.Fprintf(&b, "## Parsed Response (JSON)\n\n```json\n%s\n```\n\n", pretty)
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write agent record: %w", err)
	}

	return path, nil
}

// EndSession appends the run summary to the session record.
func (l *Logger) EndSession(success bool, finalMessage string, errs []string) error {
	if l.sessionDir == "" {
		return nil
	}

	status := "Success"
	if !success {
		status = "Completed with errors"
	}

	var b strings.Builder
	b.WriteString("\n\n---\n\n## Run Summary\n\n")
	fmt.Fprintf(&b, "- **Status:** %s\n", status)
	fmt.Fprintf(&b, "- **Agents executed:** %d\n", l.counter)
	fmt.Fprintf(&b, "- **Finished:** %s\n\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "### Final Message\n\n```\n%s\n```\n", finalMessage)

	if len(errs) > 0 {
		b.WriteString("\n### Errors\n\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	path := filepath.Join(l.sessionDir, sessionInfoFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open session info for summary: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to append session summary: %w", err)
	}
	return nil
}

// SessionDir returns the current session directory, empty before StartSession.
func (l *Logger) SessionDir() string {
	return l.sessionDir
}

// Count returns the number of agent records written so far.
func (l *Logger) Count() int {
	return l.counter
}
