package services

import (
	"context"
	"strings"
)

// normaliseIDs trims identifiers and drops blanks and duplicates, keeping first-seen order.
func normaliseIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

// excludeID returns values without target. A target not present is a no-op.
func excludeID(values []string, target string) []string {
	target = strings.TrimSpace(target)
	out := make([]string, 0, len(values))
	for _, value := range values {
		if target != "" && value == target {
			continue
		}
		out = append(out, value)
	}
	return out
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
