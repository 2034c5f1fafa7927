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
	"github.com/kestrel-os/kernel/examples/echofs"
	"github.com/kestrel-os/kernel/kernelboot"
)

// bootKernel assembles a kernel instance from cfg and starts the echo
// attachment under /srv/echo, giving kestrelctl something to demonstrate
// even with no real client process driving it yet.
func bootKernel(cfg bootConfig) (*kernelboot.Kernel, error) {
	k, err := kernelboot.Boot(kernelboot.Config{
		LogFilePath: cfg.LogFile,
		LogDebug:    cfg.Debug,
		ClockPeriod: cfg.TickPeriod,
	})
	if err != nil {
		return nil, err
	}

	if _, err := echofs.Start(k, k.Dirs().Srv, "echo"); err != nil {
		k.Shutdown()
		return nil, err
	}

	return k, nil
}
