package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spinel-coop/rv/pkg/lockfile"
	"github.com/spinel-coop/rv/pkg/platform"
)

func TestCheckHostPlatformAllowsEmptyList(t *testing.T) {
	assert.NoError(t, checkHostPlatform(&lockfile.Lockfile{}))
}

func TestCheckHostPlatformAllowsRuby(t *testing.T) {
	assert.NoError(t, checkHostPlatform(&lockfile.Lockfile{Platforms: []string{"ruby"}}))
}

func TestCheckHostPlatformRejectsUnsatisfiable(t *testing.T) {
	// A lockfile locked to a foreign platform (never the host's, whatever
	// it happens to be) must fail rather than silently proceed to a later,
	// less clear per-gem failure.
	foreign := "sparc64-solaris"
	if platform.DetectHost().String() == foreign {
		t.Skip("host happens to be the foreign platform under test")
	}
	err := checkHostPlatform(&lockfile.Lockfile{Platforms: []string{foreign}})
	assert.Error(t, err)
}
