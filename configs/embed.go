// Package configs provides embedded configuration templates for crystalmcp.
//
// Templates are embedded at build time using Go's //go:embed directive so
// they are available in all distributions (source builds and binary
// releases alike).
//
// The templates are used by:
//   - cmd/crystalmcp/cmd/init.go - creates .crystalmcp.yaml in the project root
//   - cmd/crystalmcp/cmd/config.go - creates the user config at ~/.config/crystalmcp/config.yaml
//
// Configuration hierarchy (see internal/config/config.go Load()):
//  1. Hardcoded defaults (internal/config/config.go NewConfig())
//  2. User config (~/.config/crystalmcp/config.yaml)
//  3. Project config (.crystalmcp.yaml)
//  4. Environment variables (CRYSTALMCP_*)
//
// To modify templates, edit the .yaml files in this directory and rebuild.
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration.
// Created by: `crystalmcp config init` at ~/.config/crystalmcp/config.yaml
// Contains: machine-specific settings like hash worker counts and log level.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for project-level configuration.
// Created by: `crystalmcp init` at .crystalmcp.yaml in the project root
// Contains: project-specific settings like paths.exclude and claim timeouts
// that are version-controlled with the project.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
