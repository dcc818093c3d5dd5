// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/edgehaus/iiot-gateway-core/internal/repository"
	"github.com/edgehaus/iiot-gateway-core/pkg/driver"
	"github.com/edgehaus/iiot-gateway-core/pkg/log"
)

// Node states persisted alongside each driver record.
const (
	NodeStateRunning = "running"
	NodeStateStopped = "stopped"
)

// Restore rebuilds the adapters for every persisted driver node: plugin
// instantiation via the compile-time registry, group/tag/subscription
// recovery from the repository, and a Start for nodes that were running
// when the gateway went down. Drivers whose plugin is not linked into
// this build are skipped with a warning rather than failing startup, so
// removing a plugin from a build does not brick an existing database.
func Restore(opts Options) ([]*Adapter, error) {
	nodes, err := repository.GetNodeRepository().ListNodes(string(driver.KindDriver))
	if err != nil {
		return nil, fmt.Errorf("adapter: list driver nodes: %w", err)
	}

	var out []*Adapter
	for _, n := range nodes {
		a, err := restoreNode(n, opts)
		if err != nil {
			log.Warnf("adapter: skipping node %q: %v", n.Name, err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func restoreNode(n *repository.Node, opts Options) (*Adapter, error) {
	plugin, module, err := driver.Lookup(n.PluginName)
	if err != nil {
		return nil, err
	}

	a := New(n.Name, plugin, module, opts)
	if err := a.Init(); err != nil {
		return nil, err
	}

	if err := plugin.Open(); err != nil {
		return nil, fmt.Errorf("plugin open: %w", err)
	}
	if err := plugin.Init(true); err != nil {
		return nil, fmt.Errorf("plugin init: %w", err)
	}

	setting, err := repository.GetNodeRepository().GetSetting(n.Name)
	if err != nil {
		return nil, err
	}
	if setting != "" {
		if err := plugin.Setting(setting); err != nil {
			return nil, fmt.Errorf("plugin setting: %w", err)
		}
	}

	if err := restoreGroups(a, n.Name); err != nil {
		return nil, err
	}

	if n.State == NodeStateRunning {
		if err := plugin.Start(); err != nil {
			return nil, fmt.Errorf("plugin start: %w", err)
		}
		if err := a.Start(); err != nil {
			return nil, err
		}
	}

	log.Infof("adapter: restored node %q (plugin %q, state %s)", n.Name, n.PluginName, n.State)
	return a, nil
}

func restoreGroups(a *Adapter, driverName string) error {
	groups, err := repository.GetGroupRepository().ListGroups(driverName)
	if err != nil {
		return err
	}

	tagRepo := repository.GetTagRepository()
	subRepo := repository.GetSubscriptionRepository()

	for _, g := range groups {
		if err := a.AddGroup(g.Name, g.IntervalMs); err != nil {
			return err
		}

		tags, err := tagRepo.ListTags(driverName, g.Name)
		if err != nil {
			return err
		}
		for _, t := range tags {
			if err := a.AddTag(g.Name, t); err != nil {
				// A persisted tag that no longer validates (e.g. after a
				// plugin's address rules tightened) is dropped, not fatal.
				log.Warnf("adapter: dropping persisted tag %s/%s/%s: %v", driverName, g.Name, t.Name, err)
			}
		}

		subs, err := subRepo.ListSubscribers(driverName, g.Name)
		if err != nil {
			return err
		}
		for _, s := range subs {
			sub := subscriberFromRecord(s)
			if err := a.Subscribe(g.Name, sub); err != nil {
				log.Warnf("adapter: dropping persisted subscription %s -> %s/%s: %v", s.AppName, driverName, g.Name, err)
			}
		}
	}
	return nil
}

// subscriberFromRecord maps a persisted subscription onto its delivery
// address: a `port` param selects the local abstract-namespace datagram
// socket neuron-<port>, a `nats_subject` param selects the remote NATS
// transport, and a bare record falls back to a socket named after the app.
func subscriberFromRecord(s *repository.Subscription) Subscriber {
	sub := Subscriber{
		AppName:    s.AppName,
		Addr:       "neuron-" + s.AppName,
		Params:     json.RawMessage(s.Params),
		StaticTags: s.StaticTags,
	}
	if s.Params == "" {
		return sub
	}

	var p struct {
		Port        int    `json:"port"`
		NATSSubject string `json:"nats_subject"`
	}
	if err := json.Unmarshal([]byte(s.Params), &p); err != nil {
		log.Warnf("adapter: subscription params for %q are not valid JSON: %v", s.AppName, err)
		return sub
	}
	if p.NATSSubject != "" {
		sub.Remote = true
		sub.Addr = p.NATSSubject
	} else if p.Port > 0 {
		sub.Addr = fmt.Sprintf("neuron-%d", p.Port)
	}
	return sub
}
