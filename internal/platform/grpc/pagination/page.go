// Package pagination normalises list request paging for the control API.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// PageSizeConfig configures page size normalization.
type PageSizeConfig struct {
	Default int
	Max     int
}

// OrderByConfig configures order_by validation.
type OrderByConfig struct {
	Default string
	Allowed []string
}

// ClampPageSize applies defaults and limits for page sizes.
func ClampPageSize(value int32, cfg PageSizeConfig) int {
	pageSize := int(value)
	if pageSize <= 0 {
		pageSize = cfg.Default
	}
	if cfg.Max > 0 && pageSize > cfg.Max {
		pageSize = cfg.Max
	}
	if pageSize <= 0 {
		pageSize = 1
	}
	return pageSize
}

// NormalizeOrderBy validates order_by and applies defaults.
func NormalizeOrderBy(orderBy string, cfg OrderByConfig) (string, error) {
	orderBy = strings.TrimSpace(orderBy)
	if orderBy == "" {
		return cfg.Default, nil
	}
	for _, allowed := range cfg.Allowed {
		if orderBy == allowed {
			return orderBy, nil
		}
	}
	return "", fmt.Errorf("invalid order_by: %s", orderBy)
}

const offsetTokenPrefix = "offset:"

// EncodeOffset returns the opaque page token for the item at offset.
func EncodeOffset(offset int) string {
	if offset <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(offsetTokenPrefix + strconv.Itoa(offset)))
}

// DecodeOffset parses a token produced by EncodeOffset. An empty token is
// offset zero.
func DecodeOffset(token string) (int, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("invalid page token: %w", err)
	}
	value, ok := strings.CutPrefix(string(raw), offsetTokenPrefix)
	if !ok {
		return 0, fmt.Errorf("invalid page token")
	}
	offset, err := strconv.Atoi(value)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid page token")
	}
	return offset, nil
}

// Window returns the bounds of one page over total items and the offset of
// the next page, or zero when the page is the last.
func Window(total, offset, pageSize int) (start, end, next int) {
	if offset > total {
		offset = total
	}
	end = offset + pageSize
	if end >= total {
		return offset, total, 0
	}
	return offset, end, end
}
