// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package forwarder

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/newrelic/nri-forwarder/internal/breaker"
	"github.com/newrelic/nri-forwarder/internal/delivery"
	"github.com/newrelic/nri-forwarder/internal/source"
)

// Config is the config struct for the forwarder.
type Config struct {
	ConfigFile             string
	APIURL                 string                 `mapstructure:"api_url"`
	APIToken               string                 `mapstructure:"api_token"`
	Verbose                bool                   `mapstructure:"verbose"`
	Debug                  bool                   `mapstructure:"debug"`
	RequestTimeout         time.Duration          `mapstructure:"request_timeout"`
	MaxConsecutiveAPIFails int                    `mapstructure:"max_consecutive_api_fails"`
	InsecureSkipVerify     bool                   `mapstructure:"insecure_skip_verify" default:"false"`
	ProxyURL               string                 `mapstructure:"proxy_url"`
	Compress               bool                   `mapstructure:"compress"`
	ResourceAttributes     map[string]interface{} `mapstructure:"resource_attributes"`
	SelfMonitoring         bool                   `mapstructure:"self_monitoring"`
	SelfMetricsListen      string                 `mapstructure:"self_metrics_listen"`
	Input                  string                 `mapstructure:"input"`
	InputFormat            string                 `mapstructure:"input_format"`
	Follow                 bool                   `mapstructure:"follow"`
	FollowIdleTimeout      time.Duration          `mapstructure:"follow_idle_timeout"`
	FlushInterval          time.Duration          `mapstructure:"flush_interval"`
	SpansPath              string                 `mapstructure:"spans_path"`
	Channels               ChannelsConfig         `mapstructure:"channels"`
}

// ChannelsConfig holds the configuration of every delivery channel.
type ChannelsConfig struct {
	Events    delivery.ChannelConfig `mapstructure:"events"`
	BizEvents delivery.ChannelConfig `mapstructure:"bizevents"`
	Davis     delivery.ChannelConfig `mapstructure:"davis"`
	Metrics   delivery.ChannelConfig `mapstructure:"metrics"`
}

const (
	defaultRequestTimeout = 30 * time.Second
	defaultFlushInterval  = time.Minute
)

// EnvPrefix is the prefix of the environment variables overriding the
// configuration: NRI_FORWARDER_API_TOKEN sets api_token and
// NRI_FORWARDER_CHANNELS_DAVIS_MAX_RETRIES sets channels.davis.max_retries.
const EnvPrefix = "NRI_FORWARDER"

// NewViper returns a Viper registry with the defaults loaded and every
// configuration key bound to its environment variable.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	LoadViperDefaults(v)
	BindViperEnv(v, Config{})
	return v
}

// LoadViperDefaults loads the default configuration into the given Viper registry.
func LoadViperDefaults(v *viper.Viper) {
	v.SetDefault("verbose", false)
	v.SetDefault("debug", false)
	v.SetDefault("request_timeout", defaultRequestTimeout)
	v.SetDefault("max_consecutive_api_fails", breaker.DefaultMaxFailCount)
	v.SetDefault("insecure_skip_verify", false)
	v.SetDefault("compress", false)
	v.SetDefault("self_monitoring", true)
	v.SetDefault("input", source.Stdin)
	v.SetDefault("input_format", string(source.FormatNDJSON))
	v.SetDefault("follow", false)
	v.SetDefault("flush_interval", defaultFlushInterval)
	v.SetDefault("spans_path", delivery.SpansPath)

	channels := map[string]delivery.Protocol{
		"events":    delivery.GenericEvents,
		"bizevents": delivery.BizEvents,
		"davis":     delivery.DavisEvents,
		"metrics":   delivery.Metrics,
	}
	for key, p := range channels {
		def := delivery.DefaultChannelConfig(p)
		prefix := "channels." + key + "."
		v.SetDefault(prefix+"path", def.Path)
		v.SetDefault(prefix+"max_retries", def.MaxRetries)
		v.SetDefault(prefix+"retry_delay", def.RetryDelay)
		v.SetDefault(prefix+"retry_on_status", def.RetryOnStatus)
		v.SetDefault(prefix+"max_payload_bytes", def.MaxPayloadBytes)
		if def.MaxEventCount > 0 {
			v.SetDefault(prefix+"max_event_count", def.MaxEventCount)
		}
		if def.EventType != "" {
			v.SetDefault(prefix+"event_type", def.EventType)
		}
		if def.Source != "" {
			v.SetDefault(prefix+"source", def.Source)
		}
	}
}

// BindViperEnv automatically binds the variables in given configuration
// struct to environment variables. Viper only takes environment variables
// into account for unmarshalling when the key is known, so every
// mapstructure tag is bound, nested structs included.
func BindViperEnv(v *viper.Viper, iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)
	for i := 0; i < ift.NumField(); i++ {
		fv := ifv.Field(i)
		ft := ift.Field(i)
		tag, ok := ft.Tag.Lookup("mapstructure")
		if !ok {
			continue
		}
		if fv.Kind() == reflect.Struct && ft.Type != reflect.TypeOf(time.Duration(0)) {
			BindViperEnv(v, fv.Interface(), append(parts, tag)...)
			continue
		}
		_ = v.BindEnv(strings.Join(append(parts, tag), "."))
	}
}

func validateConfig(cfg *Config) error {
	requiredMsg := "%s is required and can't be empty"
	if cfg.APIURL == "" {
		return fmt.Errorf(requiredMsg, "api_url")
	}
	if cfg.APIToken == "" {
		return fmt.Errorf(requiredMsg, "api_token")
	}
	if _, err := url.ParseRequestURI(cfg.APIURL); err != nil {
		return errors.Wrap(err, "invalid api_url")
	}
	if cfg.ProxyURL != "" {
		if _, err := url.Parse(cfg.ProxyURL); err != nil {
			return errors.Wrap(err, "invalid proxy_url")
		}
	}
	switch source.Format(cfg.InputFormat) {
	case "", source.FormatNDJSON, source.FormatPrometheus:
	default:
		return fmt.Errorf("unknown input_format %q", cfg.InputFormat)
	}
	if cfg.Follow && (cfg.Input == "" || cfg.Input == source.Stdin) {
		return errors.New("follow needs a file input")
	}
	return nil
}
