//go:build !memleak_debug

package accounting

// ValidateInvariants is a no-op outside memleak_debug builds.
func (entry *Entry) ValidateInvariants() {}
