// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package operation

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

type Shard struct {
	Name       string   `json:"name"`
	Weight     int      `json:"weight"`
	Primary    string   `json:"primary"`
	Replicas   []string `json:"replicas"`
	Partitions []string `json:"partitions"`
}

type Topology struct {
	Version uint64  `json:"version"`
	Shards  []Shard `json:"shards"`
}

type ShardHealth struct {
	Primary bool `json:"primary"`
	Replica bool `json:"replica"`
}

type ResolveResult struct {
	Key      string  `json:"key"`
	Strategy string  `json:"strategy"`
	Shards   []Shard `json:"shards"`
}

func renderTopology(w io.Writer, topology Topology) {
	t := tableWriter(shardsListHeader)
	for _, s := range topology.Shards {
		t.AppendRow(table.Row{s.Name, s.Weight, s.Primary, strings.Join(s.Replicas, ","), strings.Join(s.Partitions, ",")})
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "topology version: %d\n", topology.Version)
}

func ShardsList(w io.Writer) error {
	var topology Topology
	if err := HttpUtil(http.MethodGet, routerURL(APITopology), nil, &topology); err != nil {
		return err
	}
	renderTopology(w, topology)
	return nil
}

func Health(w io.Writer) error {
	health := map[string]ShardHealth{}
	if err := HttpUtil(http.MethodGet, routerURL(APIHealth), nil, &health); err != nil {
		return err
	}

	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	sort.Strings(names)

	t := tableWriter(healthHeader)
	for _, name := range names {
		t.AppendRow(table.Row{name, health[name].Primary, health[name].Replica})
	}
	fmt.Fprintln(w, t.Render())
	return nil
}

func Resolve(w io.Writer, key string) error {
	var result ResolveResult
	if err := HttpUtil(http.MethodGet, routerURL(APIResolve)+"?key="+url.QueryEscape(key), nil, &result); err != nil {
		return err
	}

	t := tableWriter(resolveHeader)
	for _, s := range result.Shards {
		t.AppendRow(table.Row{result.Key, result.Strategy, s.Name, s.Primary})
	}
	fmt.Fprintln(w, t.Render())
	return nil
}

func AddShard(w io.Writer, name string, weight, replicas int) error {
	body := map[string]any{"name": name, "weight": weight, "replicas": replicas}
	var topology Topology
	if err := HttpUtil(http.MethodPost, routerURL(APIShards), body, &topology); err != nil {
		return err
	}
	renderTopology(w, topology)
	return nil
}

func RemoveShard(w io.Writer, name string) error {
	var topology Topology
	if err := HttpUtil(http.MethodDelete, routerURL(APIShards)+"/"+url.PathEscape(name), nil, &topology); err != nil {
		return err
	}
	renderTopology(w, topology)
	return nil
}

func Rebalance(w io.Writer) error {
	var topology Topology
	if err := HttpUtil(http.MethodPost, routerURL(APIRebalance), nil, &topology); err != nil {
		return err
	}
	renderTopology(w, topology)
	return nil
}

func Reassign(w io.Writer, key, shard string) error {
	body := map[string]string{"key": key, "shard": shard}
	if err := HttpUtil(http.MethodPut, routerURL(APIDirectory), body, nil); err != nil {
		return err
	}
	fmt.Fprintf(w, "key %s is now served by %s\n", key, shard)
	return nil
}
