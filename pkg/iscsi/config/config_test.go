// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import "testing"

func TestDeriveCHAPSecret_FixedVector(t *testing.T) {
	got := DeriveCHAPSecret("dummy", "iqn.test.target")
	want := "5e188fadcb21a9eda630987bf5cf98d4883aa316bdfbfada41149b7607aeb71b"
	if got != want {
		t.Errorf("DeriveCHAPSecret() = %s, want %s", got, want)
	}
}

func TestWithCHAPPassphrase(t *testing.T) {
	c := New("iqn.initiator", "iqn.test.target", "127.0.0.1",
		WithCHAPPassphrase("alice", "dummy", "iqn.test.target"))
	if c.Auth.Method != AuthCHAP {
		t.Fatalf("Auth.Method = %v, want AuthCHAP", c.Auth.Method)
	}
	if c.Auth.Username != "alice" {
		t.Errorf("Auth.Username = %q, want alice", c.Auth.Username)
	}
	want := DeriveCHAPSecret("dummy", "iqn.test.target")
	if c.Auth.Secret != want {
		t.Errorf("Auth.Secret = %q, want %q", c.Auth.Secret, want)
	}
}
