// package testing contains shared testing utilities
package testing

import (
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/hoard/internal/probe"
	"github.com/desertthunder/hoard/internal/shared"
)

// FakeProbe is a test double for [probe.Probe] whose answers are set by the test.
//
// Paths under CloudPrefix are cloud-backed. Materialization defaults to false.
type FakeProbe struct {
	CloudPrefix string
	Detected    []probe.DetectedSource

	mu           sync.Mutex
	materialized map[string]bool
	checks       map[string]int
	onCheck      func(path string)
}

// NewFakeProbe creates a FakeProbe treating paths under cloudPrefix as cloud-backed.
func NewFakeProbe(cloudPrefix string) *FakeProbe {
	return &FakeProbe{
		CloudPrefix:  cloudPrefix,
		materialized: make(map[string]bool),
		checks:       make(map[string]int),
	}
}

func (f *FakeProbe) IsCloudBackedPath(path string) bool {
	return f.CloudPrefix != "" && strings.HasPrefix(path, f.CloudPrefix)
}

func (f *FakeProbe) IsMaterialized(path string) bool {
	f.mu.Lock()
	f.checks[path]++
	hook := f.onCheck
	f.mu.Unlock()

	if hook != nil {
		hook(path)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.materialized[path]
}

func (f *FakeProbe) DetectCloudSources() []probe.DetectedSource {
	if f.Detected == nil {
		return []probe.DetectedSource{}
	}
	return f.Detected
}

// SetMaterialized sets the answer IsMaterialized gives for path.
func (f *FakeProbe) SetMaterialized(path string, materialized bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.materialized[path] = materialized
}

// OnCheck installs a hook run on every IsMaterialized call, before the answer is read.
func (f *FakeProbe) OnCheck(hook func(path string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCheck = hook
}

// Checks returns how many times IsMaterialized was asked about path.
func (f *FakeProbe) Checks(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks[path]
}

// NewTestDB creates an in-memory SQLite database with migrations applied, closed on cleanup.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

// WriteFile creates path (and its parents) with size bytes of content.
func WriteFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
}

func MustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("Failed to create directory %s: %v", path, err)
	}
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites int, target io.Writer) *LimitedWriter {
	return &LimitedWriter{maxWrites: maxWrites, target: target}
}
