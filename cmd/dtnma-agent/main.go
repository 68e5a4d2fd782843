// Package main is the dtnma-agent executable.
/*
 * Copyright (c) 2024-2025, JHUAPL DTNMA Contributors. All rights reserved.
 */
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/amm"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/cmn"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/cmn/log"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/refda"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/refda/adm"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/transport/socket"
)

// NOTE: set by ldflags at build time, the same pair the teacher's
// cmd/aisnodeprofile/main.go stamps into its own binary.
var (
	version string
	build   string
)

var (
	configPath = pflag.StringP("config", "c", "", "path to a JSON config file (overrides built-in defaults)")
	socketPath = pflag.StringP("socket", "s", "", "override the Unix domain socket path from config")
	logLevel   = pflag.StringP("log-level", "l", "", "override the log severity level from config (debug|info|warn|error)")
	showVer    = pflag.BoolP("version", "V", false, "print version and exit")
)

func main() {
	os.Exit(run())
}

func run() int {
	pflag.Parse()

	if *showVer {
		log.Infof("dtnma-agent %s (%s)", version, build)
		return 0
	}

	cfg := cmn.DefaultConfig()
	if *configPath != "" {
		loaded, err := cmn.LoadConfig(*configPath)
		if err != nil {
			log.Errorf("loading config: %v", err)
			return 1
		}
		cfg = loaded
	}
	if *socketPath != "" {
		cfg.Transport.SocketPath = *socketPath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	cmn.GCO.Put(cfg)
	log.SetLevel(cfg.Log.Level)

	store := amm.NewStore()
	adm.RegisterAll(store)
	if err := store.Bind(); err != nil {
		log.Errorf("binding built-in object models: %v", err)
		return 1
	}

	acl := refda.NewACL()
	acl.AddGroup(&refda.Group{ID: "local", Patterns: []refda.EndpointPattern{{Match: func(ari.Value) bool { return true }}}})
	acl.AddAccess(&refda.Access{GroupIDs: map[string]struct{}{"local": {}}, Perms: refda.PermAll})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ln, err := socket.Listen(cfg.Transport.SocketPath)
	if err != nil {
		log.Errorf("listening on %s: %v", cfg.Transport.SocketPath, err)
		return 1
	}
	defer ln.Close()
	log.Infof("dtnma-agent listening on %s", cfg.Transport.SocketPath)

	sbrs := adm.SBRs(store)
	reg := prometheus.DefaultRegisterer

	err = ln.Serve(ctx, func(conn *socket.Socket) {
		agent := refda.NewAgent(store, acl, conn, reg)
		for path, tbr := range adm.TBRs(store) {
			agent.Rules.ScheduleTBR(path, tbr)
		}
		agent.Run(ctx, sbrs)
	})
	if err != nil {
		log.Errorf("serve: %v", err)
		return 1
	}
	return 0
}
