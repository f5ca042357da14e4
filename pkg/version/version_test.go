//-------------------------------------------------------------------------
//
// pgEdge Star Schema Loader
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info()
	if !strings.HasPrefix(info, "pgedge-starload "+Version) {
		t.Errorf("Info() = %q, expected prefix with version %q", info, Version)
	}
	if !strings.Contains(info, "commit: "+Commit) {
		t.Errorf("Info() = %q, missing commit", info)
	}
}

func TestShort(t *testing.T) {
	if Short() != Version {
		t.Errorf("Short() = %q, expected %q", Short(), Version)
	}
}
