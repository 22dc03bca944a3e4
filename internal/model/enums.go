package model

// ServiceType is the [Service] Type= value.
type ServiceType string

const (
	TypeSimple  ServiceType = "simple"
	TypeForking ServiceType = "forking"
	TypeOneshot ServiceType = "oneshot"
	TypeNotify  ServiceType = "notify"
)

// ServiceTypes lists every supported type in display order.
var ServiceTypes = []ServiceType{TypeSimple, TypeForking, TypeOneshot, TypeNotify}

func (t ServiceType) Valid() bool {
	switch t {
	case TypeSimple, TypeForking, TypeOneshot, TypeNotify:
		return true
	}
	return false
}

// SupportsRemainAfterExit reports whether RemainAfterExit has any effect for this type.
func (t ServiceType) SupportsRemainAfterExit() bool {
	switch t {
	case TypeForking, TypeOneshot:
		return true
	case TypeSimple, TypeNotify:
		return false
	}
	return false
}

// RestartPolicy is the [Service] Restart= value.
type RestartPolicy string

const (
	RestartNo         RestartPolicy = "no"
	RestartAlways     RestartPolicy = "always"
	RestartOnSuccess  RestartPolicy = "on-success"
	RestartOnFailure  RestartPolicy = "on-failure"
	RestartOnAbnormal RestartPolicy = "on-abnormal"
	RestartOnAbort    RestartPolicy = "on-abort"
	RestartOnWatchdog RestartPolicy = "on-watchdog"
)

// RestartPolicies lists every supported policy in display order.
var RestartPolicies = []RestartPolicy{
	RestartNo, RestartAlways, RestartOnSuccess, RestartOnFailure,
	RestartOnAbnormal, RestartOnAbort, RestartOnWatchdog,
}

func (p RestartPolicy) Valid() bool {
	switch p {
	case RestartNo, RestartAlways, RestartOnSuccess, RestartOnFailure,
		RestartOnAbnormal, RestartOnAbort, RestartOnWatchdog:
		return true
	}
	return false
}
