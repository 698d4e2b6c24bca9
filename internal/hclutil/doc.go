// Package hclutil holds small helpers on top of hashicorp/hcl and go-cty used
// by the HCL pipeline loader: block lookup, reference analysis of
// expressions and string evaluation.
package hclutil
