// Package cmn provides the ambient stack shared by every other package in
// this module: process configuration and short identifiers. Structured
// logging and assertions live in the cmn/log and cmn/debug subpackages.
/*
 * Copyright (c) 2024-2025, JHUAPL DTNMA Contributors. All rights reserved.
 */
package cmn

import (
	"os"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// AgentConf is the agent-identity portion of Config: an org/model name
// pair for the agent (spec.md §6 "built-in ADM surface"). Nothing in the
// module reads it; refda/adm registers the agent's namespace under the
// fixed names ietf/dtnma-agent.
type AgentConf struct {
	OrgID   string `json:"org_id"`
	ModelID string `json:"model_id"`
}

// TransportConf configures the reference transport adapter (package
// transport/socket), spec.md §6 "the reference adapter uses length-
// prefixed CBOR on a local socket".
type TransportConf struct {
	SocketPath string `json:"socket_path"`
}

// LogConf mirrors the teacher's cmn.LogConf shape: a single severity
// level string, parsed by cmn/log into a zerolog level.
type LogConf struct {
	Level string `json:"level"`
}

// ExecConf bounds the execution worker (spec.md §4.6 "a depth limit
// bounds recursion").
type ExecConf struct {
	MaxMacDepth int `json:"max_mac_depth"`
}

// Config encapsulates all configuration values used by the agent
// process, loaded once at startup and thereafter accessed through GCO
// exactly as the teacher's cmn.Config is accessed through cmn.GCO.
type Config struct {
	Agent     AgentConf     `json:"agent"`
	Transport TransportConf `json:"transport"`
	Log       LogConf       `json:"log"`
	Exec      ExecConf      `json:"exec"`
}

// DefaultConfig returns the built-in configuration used when no config
// file is given on the command line.
func DefaultConfig() *Config {
	return &Config{
		Agent:     AgentConf{OrgID: "ietf", ModelID: "dtnma-agent"},
		Transport: TransportConf{SocketPath: "/tmp/dtnma-agent.sock"},
		Log:       LogConf{Level: "info"},
		Exec:      ExecConf{MaxMacDepth: 16},
	}
}

// LoadConfig reads and decodes a JSON config file via jsoniter, the same
// library the teacher's cmn.Config uses for its own (de)serialisation.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %q", path)
	}
	cfg := DefaultConfig()
	if err := jsoniter.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %q", path)
	}
	return cfg, nil
}

// globalConfigOwner is the GCO: a process-wide, atomically-swapped
// pointer to the current Config, mirroring the teacher's cmn.GCO
// (cmn/config.go's globalConfigOwner) without its vendored
// atomic.Pointer wrapper — the stdlib's generic sync/atomic.Pointer,
// unavailable to the teacher on its older Go toolchain, is the direct
// idiomatic replacement here.
type globalConfigOwner struct {
	c atomic.Pointer[Config]
}

// GCO is the single process-wide configuration owner; every other
// package reads configuration through it rather than threading a
// *Config argument everywhere, exactly as the teacher's packages read
// through cmn.GCO.
var GCO = &globalConfigOwner{}

func init() {
	GCO.c.Store(DefaultConfig())
}

// Get returns the current configuration snapshot.
func (gco *globalConfigOwner) Get() *Config { return gco.c.Load() }

// Put installs a new configuration snapshot wholesale, the way
// cmd/dtnma-agent does once at startup after parsing flags.
func (gco *globalConfigOwner) Put(cfg *Config) { gco.c.Store(cfg) }
