// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package loader reads pipeline definitions from disk. Two formats are
// supported: HCL (`pipeline` and `stage` blocks) and a workflow-shaped YAML
// format. Both produce the same pipeline.Definition.
package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/fsutil"
	"github.com/specialistvlad/stagegrid/internal/pipeline"
)

// Loader reads a definition from one or more files or directories.
type Loader interface {
	Load(ctx context.Context, paths ...string) (*pipeline.Definition, error)
}

var (
	hclExtensions  = []string{".hcl"}
	yamlExtensions = []string{".yaml", ".yml"}
)

// Auto dispatches each file to the HCL or YAML loader by extension.
// Directories are walked for both. Mixing formats in one definition is
// rejected.
type Auto struct{}

// Load implements Loader.
func (Auto) Load(ctx context.Context, paths ...string) (*pipeline.Definition, error) {
	files, err := fsutil.ExpandPaths(paths, append(hclExtensions, yamlExtensions...)...)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no pipeline files found in %s", strings.Join(paths, ", "))
	}

	var hclFiles, yamlFiles []string
	for _, f := range files {
		switch {
		case fsutil.HasExtension(f, hclExtensions...):
			hclFiles = append(hclFiles, f)
		case fsutil.HasExtension(f, yamlExtensions...):
			yamlFiles = append(yamlFiles, f)
		default:
			return nil, fmt.Errorf("unsupported pipeline file %s: expected .hcl, .yaml or .yml", f)
		}
	}

	logger := ctxlog.FromContext(ctx)
	switch {
	case len(hclFiles) > 0 && len(yamlFiles) > 0:
		return nil, fmt.Errorf("pipeline mixes HCL and YAML files (%s, %s)", hclFiles[0], yamlFiles[0])
	case len(hclFiles) > 0:
		logger.Debug("Loading HCL pipeline.", "files", len(hclFiles))
		return HCL{}.Load(ctx, hclFiles...)
	default:
		logger.Debug("Loading YAML pipeline.", "files", len(yamlFiles))
		return YAML{}.Load(ctx, yamlFiles...)
	}
}

// defaultName derives a pipeline name from the first file.
func defaultName(files []string) string {
	if len(files) == 0 {
		return "pipeline"
	}
	base := filepath.Base(files[0])
	return strings.TrimSuffix(base, filepath.Ext(base))
}
