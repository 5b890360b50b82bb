// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dex

import "strings"

// skipPrefixes are binary class-name prefixes belonging to system/framework
// packages the resolver does not need to force-resolve (§4.5).
var skipPrefixes = []string{
	"android.",
	"com.android.",
	"androidx.",
	"java.",
	"javax.",
	"dalvik.",
	"sun.",
	"libcore.",
	"kotlin.",
	"kotlinx.",
	"org.json.",
	"org.xml.",
	"org.w3c.",
}

// ShouldSkipClass reports whether binaryName belongs to a system/framework
// package the resolver should not bother attempting to load.
func ShouldSkipClass(binaryName string) bool {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(binaryName, prefix) {
			return true
		}
	}
	return false
}

// DescriptorToBinaryName converts a DEX type descriptor to the binary class
// name Class.forName/loadClass expect:
//
//	"Ljava/lang/String;"   -> "java.lang.String"
//	"[Ljava/lang/String;"  -> "[Ljava.lang.String;"
//	"[I"                   -> "[I" (primitive array, unchanged)
//
// Returns ok=false for a bare primitive descriptor or a malformed one.
func DescriptorToBinaryName(descriptor string) (string, bool) {
	if descriptor == "" {
		return "", false
	}

	if strings.HasPrefix(descriptor, "[") {
		pos := strings.IndexByte(descriptor, 'L')
		if pos < 0 {
			// Primitive array, e.g. "[I" or "[B": passed through as-is.
			return descriptor, true
		}
		if !strings.HasSuffix(descriptor, ";") {
			return "", false
		}
		lead := descriptor[:pos]
		inner := descriptor[pos+1 : len(descriptor)-1]
		dotInner := strings.ReplaceAll(inner, "/", ".")
		return lead + "L" + dotInner + ";", true
	}

	if strings.HasPrefix(descriptor, "L") && strings.HasSuffix(descriptor, ";") {
		inner := descriptor[1 : len(descriptor)-1]
		return strings.ReplaceAll(inner, "/", "."), true
	}

	return "", false
}
