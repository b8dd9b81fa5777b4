// Package probe answers two filesystem questions for cloud-backed media: does a path belong to a
// cloud provider mount, and are the file's bytes actually present on local disk.
//
// Every query is stateless and never returns an error: failures read as "not materialized" or
// "no sources found".
package probe

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hoard/internal/shared"
)

// MinAllocatedRatio is the fraction of a file's nominal size that must be allocated on disk
// before it counts as materialized.
const MinAllocatedRatio = 0.10

// Probe is the materialization oracle shared by the download coordinator, the eviction engine
// and the streaming layer.
type Probe interface {
	IsCloudBackedPath(path string) bool
	IsMaterialized(path string) bool
	DetectCloudSources() []DetectedSource
}

// DetectedSource is a provider account mount found under the cloud root.
type DetectedSource struct {
	Path    string `json:"path"`
	Account string `json:"account"`
}

// Convention describes how the provider lays out account mounts: Root holds one directory per
// account, named Prefix + account + an optional Suffix.
type Convention struct {
	Root     string
	Prefix   string
	Suffixes []string
}

// ConventionFromConfig builds a [Convention] from the [cloud] config section.
func ConventionFromConfig(config *shared.Config) Convention {
	return Convention{
		Root:     config.CloudRoot(),
		Prefix:   config.Cloud.Prefix,
		Suffixes: config.Cloud.Suffixes,
	}
}

// Account extracts the account identifier from a mount directory name.
// ok is false when name does not follow the convention.
func (c Convention) Account(name string) (account string, ok bool) {
	if c.Prefix == "" || !strings.HasPrefix(name, c.Prefix) {
		return "", false
	}

	account = strings.TrimPrefix(name, c.Prefix)
	for _, suffix := range c.Suffixes {
		if suffix != "" && strings.HasSuffix(account, suffix) {
			account = strings.TrimSuffix(account, suffix)
			break
		}
	}

	return account, account != ""
}

// FileProbe implements [Probe] against the local filesystem.
type FileProbe struct {
	convention Convention
	stat       func(path string) (signals, error)
	logger     *log.Logger
}

// NewFileProbe creates a FileProbe for the given convention.
func NewFileProbe(convention Convention, logger *log.Logger) *FileProbe {
	if convention.Root != "" {
		convention.Root = filepath.Clean(convention.Root)
	}
	return &FileProbe{
		convention: convention,
		stat:       statSignals,
		logger:     shared.WithLogger(logger, "component", "probe"),
	}
}

// Convention returns the naming convention the probe was built with.
func (p *FileProbe) Convention() Convention {
	return p.convention
}

// IsCloudBackedPath reports whether path lies inside an account mount under the cloud root.
func (p *FileProbe) IsCloudBackedPath(path string) bool {
	if p.convention.Root == "" || path == "" {
		return false
	}

	rel, err := filepath.Rel(p.convention.Root, filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}

	mount, _, _ := strings.Cut(rel, string(filepath.Separator))
	_, ok := p.convention.Account(mount)
	return ok
}

// IsMaterialized reports whether path's content is present on local disk.
//
// A missing file or failed stat is not materialized. A zero-length file always is.
func (p *FileProbe) IsMaterialized(path string) bool {
	sig, err := p.stat(path)
	if err != nil {
		p.logger.Debug("stat failed", "path", path, "error", err)
		return false
	}
	return sig.materialized()
}

// DetectCloudSources lists account mounts under the cloud root, sorted by path.
// A missing or unreadable root yields no sources.
func (p *FileProbe) DetectCloudSources() []DetectedSource {
	detected := []DetectedSource{}
	if p.convention.Root == "" {
		return detected
	}

	entries, err := os.ReadDir(p.convention.Root)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("failed to read cloud root", "root", p.convention.Root, "error", err)
		}
		return detected
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		account, ok := p.convention.Account(entry.Name())
		if !ok {
			continue
		}
		detected = append(detected, DetectedSource{
			Path:    filepath.Join(p.convention.Root, entry.Name()),
			Account: account,
		})
	}

	sort.Slice(detected, func(i, j int) bool { return detected[i].Path < detected[j].Path })
	return detected
}

// signals are the raw placeholder indicators read from one stat call.
type signals struct {
	size        int64
	allocated   int64 // bytes of storage actually allocated; -1 when the platform cannot tell
	dataless    bool  // provider flag meaning "no local data"
	isDirectory bool
}

func (s signals) materialized() bool {
	if s.isDirectory || s.dataless {
		return false
	}
	if s.size == 0 || s.allocated < 0 {
		return true
	}
	return float64(s.allocated) >= float64(s.size)*MinAllocatedRatio
}
