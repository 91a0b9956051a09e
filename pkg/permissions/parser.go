// Package permissions centralizes the file modes rv's installer writes
// with, and sanitizes the modes gem tarballs supply for their own entries.
package permissions

import "os"

// Default permission constants (user-only access for security)
const (
	DefaultFilePerms       = 0o600 // Read/write for owner only
	DefaultExecutablePerms = 0o700 // Read/write/execute for owner only
	DefaultDirPerms        = 0o700 // Read/write/execute for owner only
)

// dangerousBits are permission bits a gem's data.tar.gz entry should never
// be allowed to set on an installed file, regardless of what the tar
// header claims: setuid/setgid (privilege escalation if the gem is later
// run as a different user) and world/group write (lets any other local
// user tamper with an installed gem's files). Setuid/setgid are covered
// both as Go's mode flags and as the raw 0o4000/0o2000 bits a tar
// header's Mode carries.
const dangerousBits = os.ModeSetuid | os.ModeSetgid | 0o6000 | 0o022

// SanitizeMode clamps a mode taken from a gem tarball entry to something
// safe to create on disk: owner bits are preserved (so an extension's
// build step still sees it as executable when the gem packaged it that
// way), but setuid/setgid and group/other write are always stripped, and
// a zero mode falls back to the package defaults.
func SanitizeMode(mode os.FileMode, isDir bool) os.FileMode {
	if mode&os.ModePerm == 0 {
		if isDir {
			return DefaultDirPerms
		}
		return DefaultFilePerms
	}
	clean := mode &^ dangerousBits
	if isDir && clean&0o100 == 0 {
		// a directory without owner-execute can't be traversed; Bundler
		// always packages directories as traversable, so treat its
		// absence as a tar producer bug rather than an intentional mode.
		clean |= 0o100
	}
	return clean
}
