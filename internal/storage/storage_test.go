package storage

import "testing"

func TestParseScheme(t *testing.T) {
	tests := []struct {
		location   string
		wantScheme string
		wantRest   string
	}{
		{"s3://my-bucket/path/to/file.ms", "s3", "my-bucket/path/to/file.ms"},
		{"/local/path/file.ms", "", "/local/path/file.ms"},
		{"file.ms", "", "file.ms"},
	}
	for _, tt := range tests {
		scheme, rest := ParseScheme(tt.location)
		if scheme != tt.wantScheme || rest != tt.wantRest {
			t.Errorf("ParseScheme(%q) = (%q, %q), want (%q, %q)", tt.location, scheme, rest, tt.wantScheme, tt.wantRest)
		}
	}
}

func TestIsRemote(t *testing.T) {
	if !IsRemote("s3://bucket/key") {
		t.Error("expected s3:// location to be remote")
	}
	if IsRemote("/local/path") {
		t.Error("expected local path to not be remote")
	}
}

func TestSplitBucketKey(t *testing.T) {
	bucket, key, err := splitBucketKey("my-bucket/some/key.ms")
	if err != nil {
		t.Fatalf("splitBucketKey: %v", err)
	}
	if bucket != "my-bucket" || key != "some/key.ms" {
		t.Errorf("got (%q, %q)", bucket, key)
	}

	if _, _, err := splitBucketKey("no-slash"); err == nil {
		t.Error("expected error for missing key component")
	}
}
