package models

import (
	"fmt"
	"path/filepath"
	"time"
)

// SourceType distinguishes plain local roots from cloud provider mounts.
type SourceType string

const (
	SourceLocal SourceType = "local"
	SourceCloud SourceType = "cloud"
)

// StorageSource is a registered storage root.
//
// No two sources share a RootPath. A file belongs to the source with the longest matching root.
type StorageSource struct {
	ID       string     `json:"id"`
	Sequence int        `json:"-"`
	Type     SourceType `json:"type"`
	RootPath string     `json:"root_path"`
	Label    string     `json:"label"`
	Account  *string    `json:"account,omitempty"`
	AddedAt  time.Time  `json:"added_at"`
}

// NewStorageSource creates a source rooted at root. An empty account is stored as NULL.
func NewStorageSource(sourceType SourceType, root, label, account string) *StorageSource {
	source := &StorageSource{
		Type:     sourceType,
		RootPath: filepath.Clean(root),
		Label:    label,
		AddedAt:  time.Now().UTC(),
	}
	if account != "" {
		source.Account = &account
	}
	return source
}

// AccountName returns the account identifier or "".
func (s *StorageSource) AccountName() string {
	if s.Account == nil {
		return ""
	}
	return *s.Account
}

// Validate checks type, root and label.
func (s *StorageSource) Validate() error {
	if s.Type != SourceLocal && s.Type != SourceCloud {
		return fmt.Errorf("unknown source type: %q", s.Type)
	}
	if s.RootPath == "" || !filepath.IsAbs(s.RootPath) {
		return fmt.Errorf("root path must be absolute: %q", s.RootPath)
	}
	if s.Label == "" {
		return fmt.Errorf("label is required")
	}
	return nil
}
