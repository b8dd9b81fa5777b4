package cache

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hoard/internal/shared"
)

// DefaultMarker prefixes each success line printed by the eviction helper.
const DefaultMarker = "EVICTED:"

// EvictionBackend releases the local data of a batch of files.
//
// The returned map holds a claim per path; callers verify claims before trusting them.
type EvictionBackend interface {
	EvictBatch(ctx context.Context, paths []string) map[string]bool
}

// FuncBackend adapts a function to [EvictionBackend].
type FuncBackend func(ctx context.Context, paths []string) map[string]bool

func (f FuncBackend) EvictBatch(ctx context.Context, paths []string) map[string]bool {
	return f(ctx, paths)
}

// ProcessBackend runs an external helper with the paths as arguments and reads one
// "<Marker><path>" line per evicted file from its stdout.
type ProcessBackend struct {
	Binary string
	Marker string
	logger *log.Logger
}

// NewProcessBackend creates a ProcessBackend. An empty marker selects [DefaultMarker].
func NewProcessBackend(binary, marker string, logger *log.Logger) *ProcessBackend {
	if marker == "" {
		marker = DefaultMarker
	}
	return &ProcessBackend{
		Binary: binary,
		Marker: marker,
		logger: shared.WithLogger(logger, "component", "evict-helper"),
	}
}

// EvictBatch never fails: a missing binary or a nonzero exit yields an empty map.
func (b *ProcessBackend) EvictBatch(ctx context.Context, paths []string) map[string]bool {
	evicted := make(map[string]bool, len(paths))
	if len(paths) == 0 {
		return evicted
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.Binary, paths...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		b.logger.Warn("eviction helper failed",
			"binary", b.Binary, "paths", len(paths), "error", err, "stderr", strings.TrimSpace(stderr.String()))
		return evicted
	}

	requested := make(map[string]bool, len(paths))
	for _, path := range paths {
		requested[path] = true
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, b.Marker) {
			continue
		}
		path := strings.TrimSpace(strings.TrimPrefix(line, b.Marker))
		if requested[path] {
			evicted[path] = true
		}
	}
	if err := scanner.Err(); err != nil {
		b.logger.Warn("failed to read eviction helper output", "error", err)
	}

	return evicted
}
