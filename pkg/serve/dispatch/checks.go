// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"strings"

	"github.com/antgroup/stageflow/modules/plumbing"
	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/antgroup/stageflow/pkg/serve/repo"
	"gopkg.in/yaml.v3"
)

// ChecksFileName is read from the root of a pull request's base branch.
const ChecksFileName = ".pr-checks.yml"

type Check struct {
	Name         string         `yaml:"name"`
	WorkflowFile string         `yaml:"workflow_file"`
	StageName    string         `yaml:"stage_name"`
	Arguments    map[string]any `yaml:"arguments"`
	Required     *bool          `yaml:"required"`
}

// IsRequired defaults to true when the field is absent.
func (c *Check) IsRequired() bool {
	return c.Required == nil || *c.Required
}

type ChecksConfig struct {
	Version string  `yaml:"version"`
	Checks  []Check `yaml:"checks"`
}

// ParseChecks decodes and validates a checks file. Check names must be
// non-empty, unique and free of path and line separators.
func ParseChecks(raw []byte) (*ChecksConfig, error) {
	var cfg ChecksConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, database.NewErrInvalidInput("malformed %s: %v", ChecksFileName, err)
	}
	if cfg.Version != "1" {
		return nil, database.NewErrInvalidInput("unsupported %s version '%s'", ChecksFileName, cfg.Version)
	}
	seen := make(map[string]bool, len(cfg.Checks))
	for i := range cfg.Checks {
		c := &cfg.Checks[i]
		if len(c.Name) == 0 || strings.ContainsAny(c.Name, "/\n\r\t") {
			return nil, database.NewErrInvalidInput("invalid check name '%s'", c.Name)
		}
		if seen[c.Name] {
			return nil, database.NewErrInvalidInput("duplicate check name '%s'", c.Name)
		}
		seen[c.Name] = true
		if len(c.WorkflowFile) == 0 || len(c.StageName) == 0 {
			return nil, database.NewErrInvalidInput("check '%s' is missing workflow_file or stage_name", c.Name)
		}
	}
	return &cfg, nil
}

// LoadChecks reads the checks file from the head of branch. A repository
// without the file simply has no checks, so a missing path returns nil.
func (d *Dispatcher) LoadChecks(ctx context.Context, r *repo.Repository, branch string) (*ChecksConfig, error) {
	ref, err := r.Branch(ctx, branch)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	c, err := r.Commit(ctx, ref.CommitHash)
	if err != nil {
		return nil, err
	}
	blobHash, err := r.BlobHashFromPath(ctx, c.TreeHash, ChecksFileName)
	if err != nil {
		if plumbing.IsErrPathNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	raw, err := r.BlobContent(ctx, blobHash)
	if err != nil {
		return nil, err
	}
	return ParseChecks(raw)
}
