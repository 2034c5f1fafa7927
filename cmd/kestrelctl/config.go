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

package main

import (
	"fmt"
	"time"
)

// bootConfig is the viper-bound boot configuration: the Go-level stand-in
// for a kernel command line, since this core runs as a Go process rather
// than linking into a bootloader.
type bootConfig struct {
	SMPCores   int           `mapstructure:"smp-cores"`
	TickPeriod time.Duration `mapstructure:"tick-period"`
	Debug      bool          `mapstructure:"debug"`
	LogFile    string        `mapstructure:"log-file"`
}

func (c bootConfig) validate() error {
	if c.SMPCores < 1 {
		return fmt.Errorf("smp-cores must be at least 1, got %d", c.SMPCores)
	}
	if c.TickPeriod <= 0 {
		return fmt.Errorf("tick-period must be positive, got %s", c.TickPeriod)
	}
	return nil
}
