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

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
)

// printer writes tables either for humans or, in machine mode, as
// “;”-separated records between start and stop marker lines.
type printer struct {
	w       io.Writer
	machine bool
}

func (p *printer) table(start, stop string, header []string, rows [][]string) error {
	if p.machine {
		fmt.Fprintln(p.w, start)
		for _, row := range rows {
			fmt.Fprintln(p.w, strings.Join(row, ";"))
		}
		fmt.Fprintln(p.w, stop)
		return nil
	}
	w := tabwriter.NewWriter(p.w, 4, 1, 1, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	underline := make([]string, len(header))
	for idx, col := range header {
		underline[idx] = strings.Repeat("-", len(col))
	}
	fmt.Fprintln(w, strings.Join(underline, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// consoleFormatter renders log messages for humans, dropping messages below
// its own level; this allows a file hook to receive more detail than the
// console.
type consoleFormatter struct {
	level logrus.Level
}

func (f *consoleFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	if entry.Level > f.level {
		return nil, nil
	}
	prefix := "cset: "
	if entry.Level <= logrus.ErrorLevel {
		prefix += "**> "
	}
	return []byte(prefix + entry.Message + "\n"), nil
}

// fileHook additionally writes all log entries to a file.
type fileHook struct {
	w         io.Writer
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *fileHook) Fire(entry *logrus.Entry) error {
	b, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.w.Write(b)
	return err
}
