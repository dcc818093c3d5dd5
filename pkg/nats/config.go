// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nats

import (
	"bytes"
	"encoding/json"

	"github.com/edgehaus/iiot-gateway-core/pkg/log"
)

// Config holds the configuration for connecting to a NATS server used as
// the remote-subscriber transport.
type Config struct {
	Address       string `json:"address"`         // e.g. "nats://localhost:4222"; empty disables the transport
	Username      string `json:"username"`        // optional
	Password      string `json:"password"`        // optional
	CredsFilePath string `json:"creds-file-path"` // optional
}

// Keys holds the global NATS configuration loaded via Init.
var Keys Config

const ConfigSchema = `{
    "type": "object",
    "description": "Configuration for the NATS remote-subscriber transport.",
    "properties": {
        "address": {
            "description": "Address of the NATS server (e.g., 'nats://localhost:4222'). Omit to disable.",
            "type": "string"
        },
        "username": { "type": "string" },
        "password": { "type": "string" },
        "creds-file-path": { "type": "string" }
    }
}`

// Init initializes the global Keys configuration from JSON.
func Init(rawConfig json.RawMessage) error {
	if rawConfig == nil {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(rawConfig))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		log.Errorf("nats: could not decode config: %s", err.Error())
		return err
	}

	return nil
}
