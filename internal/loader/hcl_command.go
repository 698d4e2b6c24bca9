package loader

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/stagegrid/internal/hclutil"
	"github.com/specialistvlad/stagegrid/internal/pipeline"
	"github.com/zclconf/go-cty/cty"
)

// exprCommand is a step command given as an HCL expression. It is evaluated
// per instance with `matrix` bound to the combination and `env` to the
// statically declared environment.
type exprCommand struct {
	expr hcl.Expression
	env  map[string]string
}

// Render implements pipeline.Command.
func (c *exprCommand) Render(vars pipeline.Combination) (string, error) {
	ctx := &hcl.EvalContext{Variables: map[string]cty.Value{
		"matrix": hclutil.StringObject(vars.Vars()),
		"env":    hclutil.StringObject(c.env),
	}}
	out, err := hclutil.EvalString(c.expr, ctx)
	if err != nil {
		return "", fmt.Errorf("failed to render command: %w", err)
	}
	return out, nil
}
