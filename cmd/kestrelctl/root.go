// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command kestrelctl boots a kernel instance in-process: the Go-level
// stand-in for a real boot loader handing control to kernel_main, since
// this core runs as an ordinary Go process rather than linking against
// real hardware.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kestrel-os/kernel/sched"
)

var (
	cfgFile string
	cfg     bootConfig
)

var rootCmd = &cobra.Command{
	Use:   "kestrelctl",
	Short: "Boot and drive a kestrel kernel instance",
}

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Boot a kernel instance and run until interrupted",
	RunE:  runBoot,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: none)")

	bootCmd.Flags().Int("smp-cores", 1, "total number of cores, including the bootstrap processor")
	bootCmd.Flags().Duration("tick-period", 10*time.Millisecond, "scheduler clock sampling period")
	bootCmd.Flags().Bool("debug", false, "enable verbose per-operation logging")
	bootCmd.Flags().String("log-file", "", "log file path (default: stderr, unrotated)")

	_ = viper.BindPFlag("smp-cores", bootCmd.Flags().Lookup("smp-cores"))
	_ = viper.BindPFlag("tick-period", bootCmd.Flags().Lookup("tick-period"))
	_ = viper.BindPFlag("debug", bootCmd.Flags().Lookup("debug"))
	_ = viper.BindPFlag("log-file", bootCmd.Flags().Lookup("log-file"))

	rootCmd.AddCommand(bootCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		// A missing or unparseable explicit config file is a startup error:
		// cobra.CheckErr prints it and exits, rather than booting with
		// flag defaults the way an unset config path does.
		if err := viper.ReadInConfig(); err != nil {
			cobra.CheckErr(fmt.Errorf("kestrelctl: reading config file %s: %w", cfgFile, err))
		}
	}
}

func runBoot(cmd *cobra.Command, args []string) error {
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("kestrelctl: parsing boot configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("kestrelctl: invalid boot configuration: %w", err)
	}

	k, err := bootKernel(cfg)
	if err != nil {
		return fmt.Errorf("kestrelctl: boot failed: %w", err)
	}
	defer k.Shutdown()

	bringUpAPs(cfg.SMPCores, k.Log)

	k.Log.Infof("kestrelctl running", "smp_cores", cfg.SMPCores, "tick_period", cfg.TickPeriod.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	k.Log.Infof("kestrelctl shutting down")
	return nil
}

// bringUpAPs simulates the INIT-SIPI-SIPI handshake for n-1 application
// processors (core 0 is the bootstrap processor and needs no handshake).
// Every simulated AP acks immediately; there is no real hardware latency
// to model, but the handshake still exercises sched.APBringup's state
// machine and timeout path the way a real multi-core boot would.
func bringUpAPs(n int, log interface{ Infof(string, ...any) }) {
	if n <= 1 {
		return
	}
	bringup := sched.NewAPBringup()
	for apicID := 1; apicID < n; apicID++ {
		apicID := apicID
		bringup.Start(apicID)
		go bringup.Ack(apicID)
	}
	for apicID := 1; apicID < n; apicID++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := bringup.WaitReady(ctx, apicID); err != nil {
			log.Infof("application processor failed to come up", "apic_id", apicID, "error", err)
		}
		cancel()
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
