package api

import (
	"net/http"
	"strings"
)

// StaticFiles 以只读方式提供本地存储目录，隐藏以点开头的路径（包括元数据目录），不列目录。
func StaticFiles(prefix, root string) http.Handler {
	prefix = "/" + strings.Trim(prefix, "/")
	files := http.FileServer(http.Dir(root))

	return http.StripPrefix(prefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hiddenPath(r.URL.Path) || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		files.ServeHTTP(w, r)
	}))
}

func hiddenPath(p string) bool {
	for _, segment := range strings.Split(p, "/") {
		if strings.HasPrefix(segment, ".") {
			return true
		}
	}
	return false
}
