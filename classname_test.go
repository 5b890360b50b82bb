// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dex

import "testing"

func TestDescriptorToBinaryName(t *testing.T) {
	tests := []struct {
		name       string
		descriptor string
		want       string
		wantOK     bool
	}{
		{"object", "Ljava/lang/String;", "java.lang.String", true},
		{"object array", "[Ljava/lang/String;", "[Ljava.lang.String;", true},
		{"primitive array", "[I", "[I", true},
		{"nested primitive array", "[[B", "[[B", true},
		{"bare primitive", "I", "", false},
		{"empty", "", "", false},
		{"malformed array", "[Ljava/lang/String", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DescriptorToBinaryName(tt.descriptor)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShouldSkipClass(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"java.lang.String", true},
		{"android.app.Activity", true},
		{"androidx.core.app.ActivityCompat", true},
		{"kotlin.jvm.internal.Intrinsics", true},
		{"com.example.app.MainActivity", false},
		{"com.google.gson.Gson", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldSkipClass(tt.name); got != tt.want {
				t.Fatalf("ShouldSkipClass(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}
