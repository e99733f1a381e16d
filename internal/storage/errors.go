package storage

import (
	"errors"
	"net/http"

	"github.com/minio/minio-go/v7"
)

// ErrObjectNotFound 表示 R2 中不存在该对象（上传的简历已被删除等）。
var ErrObjectNotFound = errors.New("storage: object not found")

// IsNoSuchKey reports whether err means the object key does not exist.
// A missing bucket is a configuration problem and does not count.
func IsNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrObjectNotFound) {
		return true
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return true
	case "NoSuchBucket":
		return false
	}
	return resp.StatusCode == http.StatusNotFound
}
