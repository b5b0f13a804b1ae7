/*
Copyright 2025 Payvault Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/payvault/payvault"
	"github.com/payvault/payvault/config"
	"github.com/payvault/payvault/database"
	"github.com/payvault/payvault/internal/notification"
)

// CLI wraps the root Cobra command.
type CLI struct {
	cmd *cobra.Command
}

// payvaultInstance holds the engine and its configuration for the lifetime
// of one command.
type payvaultInstance struct {
	payvault *payvault.Payvault
	cnf      *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and initializes the engine before any command runs.
func preRun(app *payvaultInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("payvault.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		engine, err := setupPayvault(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.payvault = engine
		app.cnf = cnf

		return nil
	}
}

func setupPayvault(cfg *config.Configuration) (*payvault.Payvault, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	engine, err := payvault.NewPayvault(db)
	if err != nil {
		return nil, fmt.Errorf("error creating payvault: %v", err)
	}
	return engine, nil
}

// NewCLI builds the command tree: server, workers and migrations.
func NewCLI() *CLI {
	var configFile string
	b := &payvaultInstance{}

	var rootCmd = &cobra.Command{
		Use:   "payvault",
		Short: "wallet ledger and payout engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./payvault.json", "Configuration file for payvault")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))

	return &CLI{cmd: rootCmd}
}

func (w CLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
