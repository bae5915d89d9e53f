package storage

import "testing"

func TestObjectURL(t *testing.T) {
	tests := []struct {
		name   string
		store  Store
		object string
		want   string
	}{
		{
			name:   "public url preferred",
			store:  Store{publicURL: "https://cdn.example.com", bucket: "clips", endpoint: "minio:9000"},
			object: "clips/abc.mp4",
			want:   "https://cdn.example.com/clips/abc.mp4",
		},
		{
			name:   "endpoint fallback http",
			store:  Store{bucket: "clips", endpoint: "minio:9000"},
			object: "clips/abc.mp4",
			want:   "http://minio:9000/clips/clips/abc.mp4",
		},
		{
			name:   "endpoint fallback https",
			store:  Store{bucket: "clips", endpoint: "s3.example.com", useSSL: true},
			object: "thumbs/abc.jpg",
			want:   "https://s3.example.com/clips/thumbs/abc.jpg",
		},
		{
			name:   "leading slash stripped",
			store:  Store{publicURL: "https://cdn.example.com", bucket: "clips"},
			object: "/clips/abc.mp4",
			want:   "https://cdn.example.com/clips/abc.mp4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.store.ObjectURL(tt.object); got != tt.want {
				t.Errorf("ObjectURL(%q) = %q, want %q", tt.object, got, tt.want)
			}
		})
	}
}

func TestNormalizeObjectName(t *testing.T) {
	if got := normalizeObjectName(`/clips\sub\file.mp4`); got != "clips/sub/file.mp4" {
		t.Errorf("normalizeObjectName = %q", got)
	}
}
