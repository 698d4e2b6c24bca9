package loader

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/specialistvlad/stagegrid/internal/pipeline"
)

var (
	startsWithRegex = regexp.MustCompile(`^startsWith\(\s*github\.ref\s*,\s*'([^']*)'\s*\)$`)
	refTypeRegex    = regexp.MustCompile(`^github\.ref_type\s*==\s*'(tag|branch)'$`)
)

// parseIf understands the small subset of workflow expressions that maps
// onto conditions. Anything else is rejected at load time.
func parseIf(expr string) (pipeline.Condition, error) {
	e := strings.TrimSpace(expr)
	if inner, ok := strings.CutPrefix(e, "${{"); ok {
		e = strings.TrimSpace(strings.TrimSuffix(inner, "}}"))
	}

	switch e {
	case "always()", "true":
		return pipeline.Always{}, nil
	case "false":
		return pipeline.Never{}, nil
	}
	if m := startsWithRegex.FindStringSubmatch(e); m != nil {
		return pipeline.RefPrefix{Prefix: m[1]}, nil
	}
	if m := refTypeRegex.FindStringSubmatch(e); m != nil {
		if m[1] == "tag" {
			return pipeline.IsTag{}, nil
		}
		return pipeline.RefPrefix{Prefix: "refs/heads/"}, nil
	}
	return nil, fmt.Errorf("unsupported if expression %q", expr)
}
