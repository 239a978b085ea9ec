package config

import "testing"

func TestMIMETypeKnownExtensions(t *testing.T) {
	cases := map[string]string{
		"page.html":  "text/html; charset=utf-8",
		"style.css":  "text/css; charset=utf-8",
		"data.json":  "application/json",
		"photo.jpeg": "image/jpeg",
	}
	for path, want := range cases {
		if got := MIMEType(path); got != want {
			t.Errorf("MIMEType(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestMIMETypeUnknownExtensionFallsBack(t *testing.T) {
	if got := MIMEType("archive.xyzzy"); got != "application/octet-stream" {
		t.Errorf("got %q, want application/octet-stream", got)
	}
}
