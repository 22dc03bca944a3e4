package model

import (
	"maps"
	"slices"
)

// Defaults applied by New. The start limits match systemd's own
// DefaultStartLimitBurst / DefaultStartLimitIntervalSec.
const (
	DefaultStartLimitBurst           = 5
	DefaultStartLimitIntervalSeconds = 10
	DefaultWantedBy                  = "multi-user.target"
)

// ServiceConfiguration describes one service. Name is the identity: it is the
// record filename stem and the unit filename stem, and must not change once
// the configuration has been persisted.
//
// The model performs no validation; see package validate.
type ServiceConfiguration struct {
	Name    string
	Unit    IdentitySection
	Service ExecutionSection
	Install ActivationSection
}

// IdentitySection maps to the [Unit] stanza.
type IdentitySection struct {
	Description   string
	Documentation []string

	// After and Before are ordered. Requires and Wants are not.
	After    []string
	Before   []string
	Requires []string
	Wants    []string

	StartLimitBurst           int
	StartLimitIntervalSeconds int
}

// ExecutionSection maps to the [Service] stanza.
type ExecutionSection struct {
	Type ServiceType

	// Empty User/Group means "manager default".
	User  string
	Group string

	WorkingDirectory string
	Environment      map[string]string

	ExecStart  string
	ExecStop   string
	ExecReload string

	Restart             RestartPolicy
	RestartDelaySeconds int

	Niceness        int
	MemoryLimit     string
	CPUQuotaPercent int // 0 means unset

	// Only meaningful for forking and oneshot services.
	RemainAfterExit bool
}

// ActivationSection maps to the [Install] stanza.
type ActivationSection struct {
	WantedBy   []string
	RequiredBy []string
	Also       []string
}

// New returns a configuration with every section at its default.
func New(name string) *ServiceConfiguration {
	return &ServiceConfiguration{
		Name: name,
		Unit: IdentitySection{
			StartLimitBurst:           DefaultStartLimitBurst,
			StartLimitIntervalSeconds: DefaultStartLimitIntervalSeconds,
		},
		Service: ExecutionSection{
			Type:    TypeSimple,
			Restart: RestartNo,
		},
		Install: ActivationSection{
			WantedBy: []string{DefaultWantedBy},
		},
	}
}

// UnitName returns the unit file name, e.g. "demo.service".
func (c *ServiceConfiguration) UnitName() string { return UnitName(c.Name) }

// UnitName returns the unit file name for a service name.
func UnitName(name string) string { return name + ".service" }

// Clone returns a deep copy.
func (c *ServiceConfiguration) Clone() *ServiceConfiguration {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Unit.Documentation = slices.Clone(c.Unit.Documentation)
	cp.Unit.After = slices.Clone(c.Unit.After)
	cp.Unit.Before = slices.Clone(c.Unit.Before)
	cp.Unit.Requires = slices.Clone(c.Unit.Requires)
	cp.Unit.Wants = slices.Clone(c.Unit.Wants)
	cp.Service.Environment = maps.Clone(c.Service.Environment)
	cp.Install.WantedBy = slices.Clone(c.Install.WantedBy)
	cp.Install.RequiredBy = slices.Clone(c.Install.RequiredBy)
	cp.Install.Also = slices.Clone(c.Install.Also)
	return &cp
}

// ActivationTargets reports whether the configuration names any target that
// enabling the unit would hook into.
func (c *ServiceConfiguration) ActivationTargets() bool {
	return len(c.Install.WantedBy) > 0 || len(c.Install.RequiredBy) > 0
}
