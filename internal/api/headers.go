package api

import (
	"fmt"
	"regexp"
	"strings"
)

// Custom outbound header names are restricted so an endpoint cannot smuggle
// arbitrary metadata: only X-* and Authorization* names pass, and the
// platform's own delivery headers can never be overridden.
var customHeaderPattern = regexp.MustCompile(`(?i)^(x-[-_a-zA-Z0-9]+|authorization[-_a-zA-Z0-9]*)$`)

func validateCustomHeaders(headers map[string]string) error {
	for name := range headers {
		if !customHeaderPattern.MatchString(name) {
			return fmt.Errorf("header %q does not match allowed X-* or Authorization* pattern", name)
		}
		if strings.HasPrefix(strings.ToLower(name), "x-hookline-") {
			return fmt.Errorf("header %q is reserved for platform delivery headers", name)
		}
	}
	return nil
}
