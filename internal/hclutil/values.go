package hclutil

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// StringObject converts a string map into a cty object value. A nil or empty
// map yields an empty object.
func StringObject(m map[string]string) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	attrs := make(map[string]cty.Value, len(m))
	for k, v := range m {
		attrs[k] = cty.StringVal(v)
	}
	return cty.ObjectVal(attrs)
}

// EvalString evaluates expr and converts the result to a string.
func EvalString(expr hcl.Expression, ctx *hcl.EvalContext) (string, error) {
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return "", diags
	}
	if val.IsNull() {
		return "", fmt.Errorf("expression at %s evaluated to null", expr.Range())
	}
	if !val.IsWhollyKnown() {
		return "", fmt.Errorf("expression at %s has an unknown value", expr.Range())
	}
	str, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", fmt.Errorf("expression at %s is not a string: %w", expr.Range(), err)
	}
	return str.AsString(), nil
}

// StringMap converts an object or map value whose elements convert to
// strings into a Go map.
func StringMap(val cty.Value) (map[string]string, error) {
	if val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("expected an object, got %s", ty.FriendlyName())
	}
	out := make(map[string]string, val.LengthInt())
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		s, err := convert.Convert(v, cty.String)
		if err != nil {
			return nil, fmt.Errorf("value of %q: %w", k.AsString(), err)
		}
		if s.IsNull() {
			return nil, fmt.Errorf("value of %q is null", k.AsString())
		}
		out[k.AsString()] = s.AsString()
	}
	return out, nil
}
