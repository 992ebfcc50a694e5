// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package rllog is the ambient logging wiring (SPEC_FULL.md §0): a single
// process-wide *zap.SugaredLogger, a no-op until Set replaces it.
package rllog

import "go.uber.org/zap"

var global = zap.NewNop().Sugar()

// Set installs l as the process-wide default logger. Call once at process
// start; every package logs through this one logger, and there is no
// per-Manager override.
func Set(l *zap.Logger) { global = l.Sugar() }

// L returns the current process-wide logger.
func L() *zap.SugaredLogger { return global }
