package storage

import (
	"strings"
	"testing"
)

func TestKeys(t *testing.T) {
	key := CVUploadKey(7, "PDF")
	if !strings.HasPrefix(key, "cv-uploads/7/") || !strings.HasSuffix(key, ".pdf") {
		t.Fatalf("unexpected cv key %q", key)
	}
	if a, b := CVUploadKey(7, ".pdf"), CVUploadKey(7, ".pdf"); a == b {
		t.Fatalf("keys must be unique")
	}
	if key := ApplicationResumeKey(3, ".docx"); !strings.HasPrefix(key, "applications/3/") || !strings.HasSuffix(key, ".docx") {
		t.Fatalf("unexpected application key %q", key)
	}
	if got := CVExportKey(1, 9); got != "cv-exports/1/rewrite-9.pdf" {
		t.Fatalf("export key = %q", got)
	}
	if got := Ext("My CV.Final.DOCX"); got != ".docx" {
		t.Fatalf("ext = %q", got)
	}
}
