package tracking

import (
	"path/filepath"
	"strings"

	"github.com/YuminosukeSato/mlops/pkg/errors"
)

// MemoryURI selects the in-memory store in Open.
const MemoryURI = "memory:"

// Open returns the store addressed by uri:
//
//	""                  LocalStore under artifactRoot (default "mlruns")
//	"memory:"           MemoryTracker
//	"file:///abs/path"  LocalStore at the path
//	"http(s)://host"    MLflowClient
//	"some/dir"          LocalStore at that filesystem path
//
// Other schemes (databricks, sqlite, ...) are rejected.
func Open(uri, artifactRoot string, opts ...MLflowOption) (Store, error) {
	if uri == "" {
		if artifactRoot == "" {
			artifactRoot = "mlruns"
		}
		return OpenLocalStore(artifactRoot)
	}

	switch scheme(uri) {
	case "":
		return OpenLocalStore(uri)
	case "memory":
		return NewMemoryTracker(), nil
	case "file":
		return OpenLocalStore(filepath.FromSlash(strings.TrimPrefix(uri, "file://")))
	case "http", "https":
		return NewMLflowClient(uri, opts...), nil
	default:
		return nil, errors.NewValueError("tracking.Open", "unsupported tracking URI "+uri)
	}
}

// scheme returns the lower-cased URI scheme, or "" for plain paths.
// Single letters are treated as Windows drive names.
func scheme(uri string) string {
	i := strings.Index(uri, ":")
	if i < 2 {
		return ""
	}
	s := uri[:i]
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return ""
		}
	}
	return strings.ToLower(s)
}
