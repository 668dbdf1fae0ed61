// Copyright 2024 Harald Albrecht.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy
// of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

package cpuset

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNotUnique     = errors.New("not unique")
	ErrAlreadyExists = errors.New("already exists")
	ErrMount         = errors.New("cannot mount cpuset filesystem")
	ErrTasksRunning  = errors.New("tasks still running")
	ErrNotActive     = errors.New("cpuset not active")
	ErrPartialMove   = errors.New("not all tasks moved")
)

// NotUniqueError is returned when a cpuset name matches multiple cpusets.
type NotUniqueError struct {
	Name  string
	Paths []string
}

func (e *NotUniqueError) Error() string {
	return fmt.Sprintf("cpuset name %q not unique: %s", e.Name, strings.Join(e.Paths, ", "))
}

func (e *NotUniqueError) Unwrap() error { return ErrNotUnique }

// PartialMoveError lists the tasks that couldn't be moved into a cpuset.
type PartialMoveError struct {
	Path      string
	NotFound  []int
	Unmovable []int
}

func (e *PartialMoveError) Error() string {
	return fmt.Sprintf("moving tasks into %s: %d tasks not found, %d tasks not movable",
		e.Path, len(e.NotFound), len(e.Unmovable))
}

func (e *PartialMoveError) Unwrap() error { return ErrPartialMove }

// MountError is returned when the cpuset filesystem cannot be mounted. It
// matches both [ErrMount] and the underlying cause, such as a permission
// error.
type MountError struct {
	Path string
	Err  error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("%s at %s, do you have permission?: %s", ErrMount, e.Path, e.Err)
}

func (e *MountError) Unwrap() []error { return []error{ErrMount, e.Err} }
