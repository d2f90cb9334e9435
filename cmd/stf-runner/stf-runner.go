// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package main is the main entry point for running an STF test against the
// BMv2 device under test
package main

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/onosproject/stf-runner/pkg/pipeline"
	"github.com/onosproject/stf-runner/pkg/runner"
	"github.com/onosproject/stf-runner/pkg/stf"
	"github.com/onosproject/stf-runner/pkg/verify"
	"github.com/spf13/cobra"
)

var log = logging.GetLogger()

const (
	verboseFlag     = "verbose"
	preserveTmpFlag = "preserve-tmp"
	configFlag      = "config"
	p4infoFlag      = "p4info"
)

// The main entry point
func main() {
	if err := getRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func getRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stf-runner <program.json> <test.stf>",
		Short:         "Run an STF test vector against the BMv2 model and verify its output",
		Args:          cobra.ExactArgs(2),
		RunE:          runRootCommand,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.Flags().BoolP(verboseFlag, "v", false, "enable verbose output")
	cmd.Flags().Bool(preserveTmpFlag, false, "preserve the temporary test folder")
	cmd.Flags().String(configFlag, "", "runner configuration YAML file")
	cmd.Flags().String(p4infoFlag, "", "build the program descriptor from a P4Info prototext file instead of the BMv2 JSON")
	return cmd
}

func runRootCommand(cmd *cobra.Command, args []string) error {
	if verbose, _ := cmd.Flags().GetBool(verboseFlag); verbose {
		for _, name := range []string{"pipeline", "stf", "translate", "ports", "runner", "verify"} {
			logging.GetLogger(name).SetLevel(logging.DebugLevel)
		}
	}

	config := runner.DefaultConfig()
	if path, _ := cmd.Flags().GetString(configFlag); path != "" {
		var err error
		if config, err = runner.LoadConfig(path); err != nil {
			return err
		}
	}

	program, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	p4infoPath, _ := cmd.Flags().GetString(p4infoFlag)
	p, err := loadPipeline(program, p4infoPath)
	if err != nil {
		return err
	}

	statements, err := stf.ParseFile(args[1])
	if err != nil {
		return err
	}

	folder, err := ioutil.TempDir(".", "stf-runner")
	if err != nil {
		return err
	}
	if preserve, _ := cmd.Flags().GetBool(preserveTmpFlag); preserve {
		log.Infof("Preserving test folder %s", folder)
	} else {
		defer os.RemoveAll(folder)
	}

	r := runner.New(config, folder, program, p, statements)
	if err = r.Run(); err != nil {
		return err
	}
	verifier := verify.NewVerifier(r.EngineLog())
	if err = verifier.Verify(r.Expectations(), r.OutputFile); err != nil {
		return err
	}
	log.Infof("All expectations satisfied")
	return nil
}

func loadPipeline(program string, p4infoPath string) (*pipeline.Pipeline, error) {
	if p4infoPath != "" {
		return pipeline.LoadP4Info(p4infoPath)
	}
	return pipeline.LoadBMv2(program)
}
