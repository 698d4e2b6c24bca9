package hclutil

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
)

// FindUniqueBlock returns the block of the given type. It returns a
// diagnostic error if more than one block of that type is found, and nil if
// there is none.
func FindUniqueBlock(blocks hcl.Blocks, blockType string) (*hcl.Block, hcl.Diagnostics) {
	var found *hcl.Block
	var diags hcl.Diagnostics

	for _, block := range blocks {
		if block.Type != blockType {
			continue
		}
		if found != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  fmt.Sprintf("Duplicate %q block", blockType),
				Detail:   fmt.Sprintf("Only one %q block is allowed; the first one is at %s.", blockType, found.DefRange),
				Subject:  block.DefRange.Ptr(),
			})
			continue
		}
		found = block
	}
	return found, diags
}

// LabeledBlocks returns the label of every block of the given type, in
// order, reporting duplicates.
func LabeledBlocks(blocks hcl.Blocks, blockType string) ([]string, hcl.Diagnostics) {
	var names []string
	var diags hcl.Diagnostics
	seen := make(map[string]*hcl.Block)

	for _, block := range blocks {
		if block.Type != blockType || len(block.Labels) == 0 {
			continue
		}
		name := block.Labels[0]
		if prev, ok := seen[name]; ok {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  fmt.Sprintf("Duplicate %s %q", blockType, name),
				Detail:   fmt.Sprintf("A %s named %q was already declared at %s.", blockType, name, prev.DefRange),
				Subject:  block.DefRange.Ptr(),
			})
			continue
		}
		seen[name] = block
		names = append(names, name)
	}
	return names, diags
}
