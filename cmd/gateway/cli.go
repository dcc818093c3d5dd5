// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import "flag"

var (
	flagVersion, flagLogDateTime, flagListPlugins          bool
	flagNewUser, flagDelUser, flagConfigFile, flagLogLevel string
)

func cliInit() {
	flag.BoolVar(&flagVersion, "version", false, "Show version information and exit")
	flag.BoolVar(&flagLogDateTime, "logdate", false, "Set this flag to add date and time to log messages")
	flag.BoolVar(&flagListPlugins, "list-plugins", false, "List the statically linked protocol plugins and exit")
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Specify alternative path to `config.json`")
	flag.StringVar(&flagNewUser, "add-user", "", "Add a new user. Argument format: <username>:<password>")
	flag.StringVar(&flagDelUser, "del-user", "", "Remove an existing user. Argument format: <username>")
	flag.StringVar(&flagLogLevel, "loglevel", "warn", "Sets the logging level: `[debug, info, warn, err, crit]`")
	flag.Parse()
}
