// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import "errors"

var (
	// ErrConfigNotFound indicates the config file does not exist.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigTooLarge indicates the config file exceeds the size limit.
	ErrConfigTooLarge = errors.New("config file too large")

	// ErrConfigInvalid indicates the config failed parsing or validation.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrNilCallback indicates Watch was given a nil reload callback.
	ErrNilCallback = errors.New("reload callback must not be nil")
)
