package store

import (
	"unitforge/internal/model"
)

// record is the on-disk shape of one configuration.
//
// Group and field names are part of the file format; renaming any of them
// needs an Upgrade step.
type record struct {
	Name    string       `json:"name"`
	Unit    unitGroup    `json:"unit"`
	Service serviceGroup `json:"service"`
	Install installGroup `json:"install"`
}

type unitGroup struct {
	Description               string   `json:"description"`
	Documentation             []string `json:"documentation"`
	After                     []string `json:"after"`
	Before                    []string `json:"before"`
	Requires                  []string `json:"requires"`
	Wants                     []string `json:"wants"`
	StartLimitBurst           int      `json:"startLimitBurst"`
	StartLimitIntervalSeconds int      `json:"startLimitIntervalSeconds"`
}

type serviceGroup struct {
	Type                string            `json:"type"`
	User                string            `json:"user"`
	Group               string            `json:"group"`
	WorkingDirectory    string            `json:"workingDirectory"`
	Environment         map[string]string `json:"environment"`
	ExecStart           string            `json:"execStart"`
	ExecStop            string            `json:"execStop"`
	ExecReload          string            `json:"execReload"`
	RestartPolicy       string            `json:"restartPolicy"`
	RestartDelaySeconds int               `json:"restartDelaySeconds"`
	Niceness            int               `json:"niceness"`
	MemoryLimit         string            `json:"memoryLimit"`
	CPUQuotaPercent     int               `json:"cpuQuotaPercent"`
	RemainAfterExit     bool              `json:"remainAfterExit"`
}

type installGroup struct {
	WantedBy   []string `json:"wantedBy"`
	RequiredBy []string `json:"requiredBy"`
	Also       []string `json:"also"`
}

func toRecord(c *model.ServiceConfiguration) record {
	return record{
		Name: c.Name,
		Unit: unitGroup{
			Description:               c.Unit.Description,
			Documentation:             c.Unit.Documentation,
			After:                     c.Unit.After,
			Before:                    c.Unit.Before,
			Requires:                  c.Unit.Requires,
			Wants:                     c.Unit.Wants,
			StartLimitBurst:           c.Unit.StartLimitBurst,
			StartLimitIntervalSeconds: c.Unit.StartLimitIntervalSeconds,
		},
		Service: serviceGroup{
			Type:                string(c.Service.Type),
			User:                c.Service.User,
			Group:               c.Service.Group,
			WorkingDirectory:    c.Service.WorkingDirectory,
			Environment:         c.Service.Environment,
			ExecStart:           c.Service.ExecStart,
			ExecStop:            c.Service.ExecStop,
			ExecReload:          c.Service.ExecReload,
			RestartPolicy:       string(c.Service.Restart),
			RestartDelaySeconds: c.Service.RestartDelaySeconds,
			Niceness:            c.Service.Niceness,
			MemoryLimit:         c.Service.MemoryLimit,
			CPUQuotaPercent:     c.Service.CPUQuotaPercent,
			RemainAfterExit:     c.Service.RemainAfterExit,
		},
		Install: installGroup{
			WantedBy:   c.Install.WantedBy,
			RequiredBy: c.Install.RequiredBy,
			Also:       c.Install.Also,
		},
	}
}

// defaultRecord seeds decoding so that missing keys keep the model default.
func defaultRecord(name string) record {
	return toRecord(model.New(name))
}

func (r record) toModel(name string) *model.ServiceConfiguration {
	return &model.ServiceConfiguration{
		Name: name,
		Unit: model.IdentitySection{
			Description:               r.Unit.Description,
			Documentation:             nilIfEmpty(r.Unit.Documentation),
			After:                     nilIfEmpty(r.Unit.After),
			Before:                    nilIfEmpty(r.Unit.Before),
			Requires:                  nilIfEmpty(r.Unit.Requires),
			Wants:                     nilIfEmpty(r.Unit.Wants),
			StartLimitBurst:           r.Unit.StartLimitBurst,
			StartLimitIntervalSeconds: r.Unit.StartLimitIntervalSeconds,
		},
		Service: model.ExecutionSection{
			Type:                model.ServiceType(r.Service.Type),
			User:                r.Service.User,
			Group:               r.Service.Group,
			WorkingDirectory:    r.Service.WorkingDirectory,
			Environment:         nilIfEmptyMap(r.Service.Environment),
			ExecStart:           r.Service.ExecStart,
			ExecStop:            r.Service.ExecStop,
			ExecReload:          r.Service.ExecReload,
			Restart:             model.RestartPolicy(r.Service.RestartPolicy),
			RestartDelaySeconds: r.Service.RestartDelaySeconds,
			Niceness:            r.Service.Niceness,
			MemoryLimit:         r.Service.MemoryLimit,
			CPUQuotaPercent:     r.Service.CPUQuotaPercent,
			RemainAfterExit:     r.Service.RemainAfterExit,
		},
		Install: model.ActivationSection{
			WantedBy:   nilIfEmpty(r.Install.WantedBy),
			RequiredBy: nilIfEmpty(r.Install.RequiredBy),
			Also:       nilIfEmpty(r.Install.Also),
		},
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func nilIfEmptyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}
