package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
)

// ParsePathID reads a positive integer chi URL parameter.
func ParsePathID(r *http.Request, key string) (uint64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || value == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "path parameter must be a positive integer").WithDetails(map[string]any{"field": key})
	}
	return value, nil
}

// QueryParam returns the trimmed query value, or "" when it only holds an
// unexpanded {PLACEHOLDER} template.
func QueryParam(r *http.Request, key string) string {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}") {
		return ""
	}
	return raw
}
