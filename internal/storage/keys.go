package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// CVUploadKey 用户上传简历的对象路径。
func CVUploadKey(userID uint, ext string) string {
	return fmt.Sprintf("cv-uploads/%d/%s%s", userID, uuid.NewString(), normalizeExt(ext))
}

// ApplicationResumeKey is where an applicant's resume for a job is kept.
func ApplicationResumeKey(jobID uint, ext string) string {
	return fmt.Sprintf("applications/%d/%s%s", jobID, uuid.NewString(), normalizeExt(ext))
}

// CVExportKey is the cached PDF export of a rewrite.
func CVExportKey(userID, rewriteID uint) string {
	return fmt.Sprintf("cv-exports/%d/rewrite-%d.pdf", userID, rewriteID)
}

// Ext returns the lower-cased extension of filename, including the dot.
func Ext(filename string) string {
	return strings.ToLower(path.Ext(strings.TrimSpace(filename)))
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
