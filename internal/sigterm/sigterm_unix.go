// Copyright 2024 The git-upstream Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build unix

package sigterm

import (
	"os"

	"golang.org/x/sys/unix"
)

var signals = []os.Signal{os.Interrupt, unix.SIGTERM}

func terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Signal(unix.SIGTERM)
}
