package pmode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirosfoundation/go-ebms/pkg/compression"
	"github.com/sirosfoundation/go-ebms/pkg/mep"
)

// ErrInvalid is matched by errors.Is on every *InvalidError
var ErrInvalid = errors.New("pmode: invalid")

// Problem is one field-level configuration error
type Problem struct {
	Field   string
	Message string
}

func (p Problem) String() string {
	return p.Field + ": " + p.Message
}

// InvalidError carries the problems found by Validate
type InvalidError struct {
	ID       string
	Problems []Problem
}

func (e *InvalidError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return fmt.Sprintf("pmode %q invalid: %s", e.ID, strings.Join(parts, "; "))
}

func (e *InvalidError) Unwrap() error { return ErrInvalid }

// Result is the outcome of Validate: either a valid PMode or a list of problems.
// Warnings never make a PMode invalid.
type Result struct {
	pmode    *PMode
	problems []Problem
	warnings []Problem
}

// Ok returns the validated PMode and true when no problems were found
func (r Result) Ok() (*PMode, bool) {
	if len(r.problems) > 0 {
		return nil, false
	}
	return r.pmode, true
}

// Problems returns the configuration errors
func (r Result) Problems() []Problem { return r.problems }

// Warnings returns findings that do not block the PMode
func (r Result) Warnings() []Problem { return r.warnings }

// Err returns an *InvalidError when the PMode is invalid, nil otherwise
func (r Result) Err() error {
	if len(r.problems) == 0 {
		return nil
	}
	id := ""
	if r.pmode != nil {
		id = r.pmode.ID
	}
	return &InvalidError{ID: id, Problems: r.problems}
}

type validator struct {
	problems []Problem
	warnings []Problem
}

func (v *validator) fail(field, format string, args ...any) {
	v.problems = append(v.problems, Problem{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) warn(field, format string, args ...any) {
	v.warnings = append(v.warnings, Problem{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks p without modifying it. Missing values are reported,
// never defaulted.
func Validate(p *PMode) Result {
	if p == nil {
		return Result{problems: []Problem{{Field: "PMode", Message: "missing"}}}
	}

	v := &validator{}
	if strings.TrimSpace(p.ID) == "" {
		v.fail("ID", "must not be empty")
	}
	if !p.MEP.Valid() {
		v.fail("MEP", "missing or unknown exchange pattern")
	}
	if !p.Binding.Valid() {
		v.fail("Binding", "missing or unknown binding")
	}

	if p.MEP.Valid() && p.Binding.Valid() {
		if p.MEP == mep.OneWay && p.Binding != mep.Push && p.Binding != mep.Pull {
			v.fail("Binding", "%s cannot carry a one-way exchange", p.Binding)
		}
		if p.Leg1 == nil {
			v.fail("Leg1", "required by binding %s", p.Binding)
		}
		if p.Binding.RequiredLegs() == 2 && p.Leg2 == nil {
			v.fail("Leg2", "required by binding %s", p.Binding)
		}
	}

	if !p.SecurityProfile.Known() {
		v.warn("SecurityProfile", "unknown profile %q; custom defaults apply", p.SecurityProfile)
	}
	v.checkPayloadService("PayloadService", p.PayloadService)
	v.checkAwareness("ReceptionAwareness", p.ReceptionAwareness)
	for n := 1; n <= 2; n++ {
		leg := p.Leg(n)
		if leg == nil {
			continue
		}
		prefix := fmt.Sprintf("Leg%d", n)
		v.checkPayloadService(prefix+".PayloadService", leg.PayloadService)
		v.checkAwareness(prefix+".ReceptionAwareness", leg.ReceptionAwareness)
		if leg.Security != nil && leg.Security.SendReceipt != nil {
			sr := leg.Security.SendReceipt
			if sr.ReplyPattern == ReplyCallback && sr.ReplyTo == "" {
				v.fail(prefix+".Security.SendReceipt.ReplyTo", "required for callback reply pattern")
			}
			if sr.ReplyPattern != "" && sr.ReplyPattern != ReplyResponse && sr.ReplyPattern != ReplyCallback {
				v.fail(prefix+".Security.SendReceipt.ReplyPattern", "unknown reply pattern %q", sr.ReplyPattern)
			}
		}
	}

	if p.LegCount() == 2 && p.Leg1 != nil && p.Leg2 != nil {
		if p.PolicyForLeg(1) != p.PolicyForLeg(2) {
			v.warn("Leg2.ReceptionAwareness", "differs from Leg1; each leg uses its own policy")
		}
	}

	return Result{pmode: p, problems: v.problems, warnings: v.warnings}
}

func (v *validator) checkAwareness(field string, ra *ReceptionAwareness) {
	if ra == nil {
		return
	}
	if ra.MaxRetries != nil && *ra.MaxRetries < 0 {
		v.fail(field+".MaxRetries", "must be >= 0, got %d", *ra.MaxRetries)
	}
	if ra.RetryInterval < 0 {
		v.fail(field+".RetryInterval", "must be > 0, got %s", ra.RetryInterval)
	}
	if ra.DuplicateWindow < 0 {
		v.fail(field+".DuplicateWindow", "must be > 0, got %s", ra.DuplicateWindow)
	}
}

func (v *validator) checkPayloadService(field string, ps *PayloadService) {
	if ps == nil || ps.CompressionType == "" {
		return
	}
	if compression.ModeFromMIMEType(ps.CompressionType) == compression.None {
		v.fail(field+".CompressionType", "unsupported compression type %q", ps.CompressionType)
	}
}
