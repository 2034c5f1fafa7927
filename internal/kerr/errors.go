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

// Package kerr defines the tagged error codes returned across the VFS/
// syscall boundary. Kernel code never panics on the user path;
// every user-reachable failure is one of these codes.
package kerr

import "fmt"

// Code is a tagged VFS error. The zero value is not a valid code; always
// construct a Code through one of the declared constants.
type Code uint32

const (
	// NodeNotFound means path resolution failed at some component.
	NodeNotFound Code = iota + 1
	// NodeExists means creation collided with an existing sibling name.
	NodeExists
	// NodeIsLeaf means a tree operation was attempted on a leaf node.
	NodeIsLeaf
	// FileDestroyed means the node was collected while an FD still referenced it.
	FileDestroyed
	// Protocol means a malformed attachment message or an oversized frame.
	Protocol
)

var names = map[Code]string{
	NodeNotFound:  "fs_node_not_found",
	NodeExists:    "fs_node_exists",
	NodeIsLeaf:    "fs_node_is_leaf",
	FileDestroyed: "fs_file_destroyed",
	Protocol:      "fs_protocol",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("kerr.Code(%d)", uint32(c))
}

// Error wraps a Code as a standard error, so kernel-internal code can use
// normal Go error-handling idiom (errors.Is) while the VFS layer keeps the
// Code around for folding into IoResult/syscall replies.
type Error struct {
	Code Code
}

func New(c Code) *Error {
	return &Error{Code: c}
}

func (e *Error) Error() string {
	return e.Code.String()
}

// Is lets errors.Is(err, kerr.New(kerr.NodeNotFound)) work, comparing codes
// rather than pointer identity.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Code == e.Code
}
