package policy

import "errors"

// Store errors shared by every PolicyStore implementation.
var (
	ErrPolicyNotFound = errors.New("policy not found")
	ErrRuleNotFound   = errors.New("rule not found")
)
