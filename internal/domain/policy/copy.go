package policy

// Clone returns a deep copy of p.
func (p *Policy) Clone() *Policy {
	c := *p
	c.Rules = make([]Rule, len(p.Rules))
	for i, r := range p.Rules {
		c.Rules[i] = r.Clone()
	}
	return &c
}

// Clone returns a copy of r that shares no slices with it.
func (r Rule) Clone() Rule {
	if r.Actions != nil {
		actions := make([]string, len(r.Actions))
		copy(actions, r.Actions)
		r.Actions = actions
	}
	return r
}
