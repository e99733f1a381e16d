package api

import "strings"

// detail 去掉哨兵错误前缀，只留给用户看的部分。
func detail(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}
