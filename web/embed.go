// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package web embeds the HTML templates served by the portal.
package web

import "embed"

// Templates contains all HTML templates.
//
//go:embed all:templates
var Templates embed.FS
