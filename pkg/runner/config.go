// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the tunables of one test run: the device-under-test binaries,
// the control-port allocation range and the various settling delays
type Config struct {
	SwitchBinary   string        `mapstructure:"switch_binary" yaml:"switch_binary"`
	CLIBinary      string        `mapstructure:"cli_binary" yaml:"cli_binary"`
	BasePort       int           `mapstructure:"base_port" yaml:"base_port"`
	PortRange      int           `mapstructure:"port_range" yaml:"port_range"`
	LeaseDir       string        `mapstructure:"lease_dir" yaml:"lease_dir"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout" yaml:"process_timeout"`
	SettleDelay    time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	DrainDelay     time.Duration `mapstructure:"drain_delay" yaml:"drain_delay"`
	PcapPrefix     string        `mapstructure:"pcap_prefix" yaml:"pcap_prefix"`
	LogFile        string        `mapstructure:"log_file" yaml:"log_file"`
}

// DefaultConfig returns the configuration matching a stock BMv2 install
func DefaultConfig() Config {
	cwd, _ := os.Getwd()
	return Config{
		SwitchBinary:   "simple_switch",
		CLIBinary:      "simple_switch_CLI",
		BasePort:       9090,
		PortRange:      1000,
		LeaseDir:       cwd,
		ProcessTimeout: 100 * time.Second,
		SettleDelay:    100 * time.Millisecond,
		DrainDelay:     time.Second,
		PcapPrefix:     "pcap",
		LogFile:        "switch.log",
	}
}

// LoadConfig reads a runner configuration YAML file, overlaying any values
// present onto the defaults
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	cfg := viper.New()
	cfg.SetConfigType("yaml")
	cfg.SetConfigFile(path)
	if err := cfg.ReadInConfig(); err != nil {
		return config, err
	}
	if err := cfg.Unmarshal(&config); err != nil {
		return config, err
	}
	return config, nil
}
