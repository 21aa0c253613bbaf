// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package render

import (
	"strings"
	"testing"
	"testing/fstest"
)

func testTemplatesFS() fstest.MapFS {
	return fstest.MapFS{
		"layouts/base.html": &fstest.MapFile{Data: []byte(
			`{{define "base"}}<html><body>{{template "content" .}}</body></html>{{end}}`)},
		"auth/login.html": &fstest.MapFile{Data: []byte(
			`{{define "content"}}login page {{.Title}}{{end}}`)},
		"member/dashboard.html": &fstest.MapFile{Data: []byte(
			`{{define "content"}}dashboard{{end}}`)},
	}
}

func TestNewParsesGroups(t *testing.T) {
	r, err := New(Config{TemplatesFS: testTemplatesFS()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, ok := r.templates["auth/login"]; !ok {
		t.Error("auth/login should be parsed")
	}
	if _, ok := r.templates["member/dashboard"]; !ok {
		t.Error("member/dashboard should be parsed")
	}
}

func TestMarkdownSanitizes(t *testing.T) {
	out := string(Markdown("# Title\n\n<script>alert(1)</script>*em*"))

	if !strings.Contains(out, "<h1>") {
		t.Errorf("output %q missing heading", out)
	}
	if strings.Contains(out, "<script>") {
		t.Errorf("output %q contains script tag", out)
	}
	if !strings.Contains(out, "<em>") {
		t.Errorf("output %q missing emphasis", out)
	}
}
