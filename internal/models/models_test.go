package models

import "testing"

func TestTrackValidate(t *testing.T) {
	tests := []struct {
		name    string
		track   *Track
		wantErr bool
	}{
		{name: "valid local track", track: NewTrack("/music/a.mp3", 10)},
		{name: "empty path", track: NewTrack("", 10), wantErr: true},
		{name: "relative path", track: NewTrack("music/a.mp3", 10), wantErr: true},
		{name: "negative size", track: NewTrack("/music/a.mp3", -1), wantErr: true},
		{
			name:    "unknown status",
			track:   &Track{FilePath: "/music/a.mp3", SyncStatus: "gone"},
			wantErr: true,
		},
		{
			name:  "zero size cloud-only",
			track: &Track{FilePath: "/cloud/a.mp3", SyncStatus: SyncCloudOnly},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.track.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTrackIsCloudBacked(t *testing.T) {
	for status, want := range map[SyncStatus]bool{
		SyncLocal:       false,
		SyncDownloading: true,
		SyncCached:      true,
		SyncCloudOnly:   true,
	} {
		track := &Track{SyncStatus: status}
		if got := track.IsCloudBacked(); got != want {
			t.Errorf("IsCloudBacked() for %s = %v, want %v", status, got, want)
		}
	}
}

func TestStorageSource(t *testing.T) {
	t.Run("empty account stored as nil", func(t *testing.T) {
		source := NewStorageSource(SourceLocal, "/music/", "Music", "")
		if source.Account != nil {
			t.Errorf("expected nil account, got %v", *source.Account)
		}
		if source.RootPath != "/music" {
			t.Errorf("expected cleaned root /music, got %s", source.RootPath)
		}
		if err := source.Validate(); err != nil {
			t.Errorf("expected valid source: %v", err)
		}
	})

	t.Run("account name", func(t *testing.T) {
		source := NewStorageSource(SourceCloud, "/cloud/GoogleDrive-me@example.com", "Google Drive (me@example.com)", "me@example.com")
		if source.AccountName() != "me@example.com" {
			t.Errorf("expected account me@example.com, got %s", source.AccountName())
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, source := range []*StorageSource{
			NewStorageSource("nas", "/music", "Music", ""),
			NewStorageSource(SourceLocal, "relative", "Music", ""),
			NewStorageSource(SourceLocal, "/music", "", ""),
		} {
			if err := source.Validate(); err == nil {
				t.Errorf("expected validation error for %+v", source)
			}
		}
	})
}
