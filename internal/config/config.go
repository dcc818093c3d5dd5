// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config holds the gateway's program-wide configuration, loaded
// once at startup from a JSON file and validated against ConfigSchema.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/edgehaus/iiot-gateway-core/pkg/nats"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ProgramConfig is the format of the configuration file. See Keys below
// for the defaults applied before a config file is read.
type ProgramConfig struct {
	// NodeName identifies this gateway instance in the startup log.
	NodeName string `json:"node_name"`

	// DBDriver and DB select the persister's backing store. Only "sqlite3"
	// is implemented; the field exists so a future backend does not need a
	// config format change.
	DBDriver string `json:"db_driver"`
	DB       string `json:"db"`

	// MigrationsDir is accepted but not read: migrations always come from
	// the schema scripts embedded in the binary.
	MigrationsDir string `json:"migrations_dir"`

	// SubscriberSocketDir is accepted but not read: subscriber sockets
	// always live in the abstract namespace (see adapter.DatagramSender).
	SubscriberSocketDir string `json:"subscriber_socket_dir"`

	// MetricsAddr is the address the Prometheus /metrics handler listens
	// on; empty disables the metrics server.
	MetricsAddr string `json:"metrics_addr"`

	// SubFilterErr is the global change-detection error-filtering flag
	// the tag cache's change detector reads at construction time.
	SubFilterErr bool `json:"sub_filter_err"`

	// TraceTimeout is how long an un-finalized trace context survives
	// without updates before the reaper collects it.
	TraceTimeout string `json:"trace_timeout"`

	// NATS is the optional remote-subscriber/OTel-export transport config.
	NATS nats.Config `json:"nats"`

	// Otel is the initial OTel span-export configuration; it can also be
	// changed at runtime via an otel_config control request.
	Otel tagmodel.OTelConfig `json:"otel"`
}

// Keys holds the process-wide configuration loaded by Init. It starts out
// populated with sane defaults so a gateway can run with zero config file.
var Keys = ProgramConfig{
	NodeName:            "gateway",
	DBDriver:            "sqlite3",
	DB:                  "./persistence/sqlite.db",
	SubscriberSocketDir: "/tmp",
	MetricsAddr:         ":9090",
	SubFilterErr:        true,
	TraceTimeout:        "3m",
}

// ConfigSchema validates the top-level program configuration document.
const ConfigSchema = `{
    "type": "object",
    "properties": {
        "node_name": {"type": "string", "minLength": 1},
        "db_driver": {"type": "string", "enum": ["sqlite3"]},
        "db": {"type": "string", "minLength": 1},
        "migrations_dir": {"type": "string"},
        "subscriber_socket_dir": {"type": "string"},
        "metrics_addr": {"type": "string"},
        "sub_filter_err": {"type": "boolean"},
        "trace_timeout": {"type": "string"},
        "nats": {"type": "object"},
        "otel": {"type": "object"}
    },
    "required": ["db_driver", "db"]
}`

// Init loads and validates the configuration file at path, merging it over
// the defaults in Keys. A missing file is not an error: the defaults
// stand. A malformed or schema-invalid file is fatal.
func Init(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("config: %s not found, using defaults", path)
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := validate(raw); err != nil {
		return fmt.Errorf("config: validate %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}

	if err := nats.Init(json.RawMessage(mustMarshal(Keys.NATS))); err != nil {
		return fmt.Errorf("config: nats section: %w", err)
	}

	log.Infof("config: loaded %s", path)
	return nil
}

func validate(raw []byte) error {
	s, err := jsonschema.CompileString("config.schema.json", ConfigSchema)
	if err != nil {
		return err
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Errorf("config: marshal: %v", err)
		return []byte("{}")
	}
	return b
}
