// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"testing"

	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleChecks = `version: "1"
checks:
  - name: lint
    workflow_file: flows/ci.lua
    stage_name: lint
  - name: test
    workflow_file: flows/ci.lua
    stage_name: test
    arguments:
      suite: unit
    required: false
`

func TestParseChecks(t *testing.T) {
	cfg, err := ParseChecks([]byte(sampleChecks))
	require.NoError(t, err)
	require.Len(t, cfg.Checks, 2)

	lint := cfg.Checks[0]
	assert.Equal(t, "lint", lint.Name)
	assert.True(t, lint.IsRequired())

	test := cfg.Checks[1]
	assert.False(t, test.IsRequired())
	assert.Equal(t, "unit", test.Arguments["suite"])
}

func TestParseChecksRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"bad version", "version: \"2\"\nchecks: []\n"},
		{"missing version", "checks: []\n"},
		{"empty name", "version: \"1\"\nchecks:\n  - name: \"\"\n    workflow_file: f\n    stage_name: s\n"},
		{"slash in name", "version: \"1\"\nchecks:\n  - name: a/b\n    workflow_file: f\n    stage_name: s\n"},
		{"duplicate name", "version: \"1\"\nchecks:\n  - name: a\n    workflow_file: f\n    stage_name: s\n  - name: a\n    workflow_file: f\n    stage_name: s\n"},
		{"missing stage", "version: \"1\"\nchecks:\n  - name: a\n    workflow_file: f\n"},
		{"not yaml", "{{{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseChecks([]byte(tc.raw))
			require.Error(t, err)
			assert.True(t, database.IsErrInvalidInput(err))
		})
	}
}

func TestLoadChecksAbsentFile(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedWorkflow(t)

	cfg, err := fx.d.LoadChecks(ctx, fx.r, "main")
	require.NoError(t, err)
	assert.Nil(t, cfg)

	// Unborn branch also has no checks.
	cfg, err = fx.d.LoadChecks(ctx, fx.r, "ghost")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadChecksFromBranchHead(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedWorkflow(t)
	_, err := fx.r.UpdateFile(ctx, "main", ChecksFileName, []byte(sampleChecks), "add checks", "dev", "dev@example.com")
	require.NoError(t, err)

	cfg, err := fx.d.LoadChecks(ctx, fx.r, "main")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Len(t, cfg.Checks, 2)
}
