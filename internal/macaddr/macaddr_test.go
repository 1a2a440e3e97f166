package macaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonical(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"aabbcc112233", "aabbcc112233", true},
		{"aabb:cc:11:22:33", "aabbcc112233", true},
		{"AA:BB:CC:11:22:33", "aabbcc112233", true},
		{"aa-bb-cc-11-22-33", "aabbcc112233", true},
		{"aabb.cc11.2233", "aabbcc112233", true},
		{"  3C28A60357A0 ", "3c28a60357a0", true},
		{"00:11:22:33:44:55:66:77", "0011223344556677", true},
		{"dev-1", "", false},
		{"deadbeef", "", false},
		{"zzbbcc112233", "", false},
		{"", "", false},
		{"aabbcc1122334", "", false},
	}
	for _, tc := range cases {
		got, ok := Canonical(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestStrip(t *testing.T) {
	assert.Equal(t, "aa11", Strip("AA:11"))
	assert.Equal(t, "dev1", Strip(" dev-1 "))
	assert.Equal(t, "", Strip("  "))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "aa:bb:cc:11:22:33", Format("aabbcc112233"))
	assert.Equal(t, "abc", Format("abc"))
}
