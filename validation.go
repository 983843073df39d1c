package swrouter

import "errors"

// Validator accumulates errors encountered while parsing or checking a
// packet frame view. The codec subpackages (ethernet, arp, ipv4, icmpv4)
// take a *Validator in their ValidateSize/Validate methods instead of
// returning an error directly, so a caller can opt into collecting every
// problem found in a frame rather than bailing out on the first one.
//
// The zero value is ready to use and keeps only the first error reported to
// it; call AllowMultipleErrors to accumulate all of them instead.
type Validator struct {
	checkEvil      bool
	allowMultiErrs bool
	accum          []error
}

// AllowMultipleErrors configures v to retain every error reported to it via
// AddError instead of only the first.
func (v *Validator) AllowMultipleErrors(allow bool) {
	v.allowMultiErrs = allow
}

// CheckEvilBit configures whether ipv4 validation should flag the IPv4
// "evil" flag bit (RFC 3514) as an error.
func (v *Validator) CheckEvilBit(check bool) {
	v.checkEvil = check
}

// EvilBitChecked reports whether the evil bit is currently being checked.
func (v *Validator) EvilBitChecked() bool {
	return v.checkEvil
}

// ResetErr clears all accumulated errors, readying v for reuse.
func (v *Validator) ResetErr() {
	v.accum = v.accum[:0]
}

// HasError reports whether v has accumulated at least one error.
func (v *Validator) HasError() bool {
	return len(v.accum) > 0
}

// Err returns the accumulated errors joined with errors.Join, or nil if
// none were reported.
func (v *Validator) Err() error {
	if len(v.accum) == 1 {
		return v.accum[0]
	} else if len(v.accum) == 0 {
		return nil
	}
	return errors.Join(v.accum...)
}

// AddError reports err to v. If v is not configured to allow multiple
// errors, calls after the first one are no-ops.
func (v *Validator) AddError(err error) {
	if len(v.accum) != 0 && !v.allowMultiErrs {
		return
	}
	v.accum = append(v.accum, err)
}
