// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"errors"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/newrelic/nri-forwarder/internal/cmd/forwarder"
	"github.com/newrelic/nri-forwarder/internal/delivery"
)

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet(delivery.Name, pflag.ContinueOnError)
	flags.String("config", "", "path of the configuration file")
	flags.String("input", "", "file to read records from, - for the standard input")
	flags.String("input-format", "", "format of the input: ndjson or prometheus")
	flags.Bool("follow", false, "keep reading the input file as it grows")
	flags.Bool("verbose", false, "log at debug level")
	flags.Bool("compress", false, "gzip request bodies")
	flags.Bool("version", false, "print the version and exit")
	return flags
}

// flagKeys maps flags to the configuration keys they override.
var flagKeys = map[string]string{
	"input":        "input",
	"input-format": "input_format",
	"follow":       "follow",
	"verbose":      "verbose",
	"compress":     "compress",
}

var errVersion = errors.New("version requested")

func loadConfig(args []string) (*forwarder.Config, error) {
	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if v, _ := flags.GetBool("version"); v {
		return nil, errVersion
	}

	cfg := forwarder.NewViper()
	cfg.SetConfigName("config")
	cfg.SetConfigType("yaml")
	cfg.AddConfigPath("/etc/nri-forwarder/")
	cfg.AddConfigPath(".")

	configFile := os.Getenv("CONFIG_PATH")
	if path, _ := flags.GetString("config"); path != "" {
		configFile = path
	}
	if configFile != "" {
		cfg.SetConfigFile(configFile)
	}

	err := cfg.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && (configFile != "" || !errors.As(err, &notFound)) {
		return nil, err
	}

	for flag, key := range flagKeys {
		if err := cfg.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, err
		}
	}

	var fwdCfg forwarder.Config
	if err := cfg.Unmarshal(&fwdCfg); err != nil {
		return nil, err
	}
	fwdCfg.ConfigFile = cfg.ConfigFileUsed()

	if fwdCfg.APIToken == "" {
		return nil, errors.New("API_TOKEN is required and can't be empty")
	}

	return &fwdCfg, nil
}
