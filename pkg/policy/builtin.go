package policy

// Built-in policy names.
const (
	PolicyCriticalFaults = "critical-faults"
	PolicyMajorFaults    = "major-faults"
)

// BuiltinPolicies returns the built-in fault policies. Only the critical
// fault policy is enabled by default.
func BuiltinPolicies() []Policy {
	return []Policy{
		criticalFaultsPolicy(),
		majorFaultsPolicy(),
	}
}

// criticalFaultsPolicy blocks on any new critical fault.
func criticalFaultsPolicy() Policy {
	return Policy{
		Name:        PolicyCriticalFaults,
		Description: "Blocks the workflow when a new critical fault is raised",
		Enabled:     true,
		Tags:        []string{"faults", "severity"},
		Rego: `package fabricupgrade.faults.critical

import rego.v1

deny contains violation if {
	some fault in input.faults
	fault.severity == "critical"
	violation := {
		"message": sprintf("new critical fault %s at %s", [fault.code, fault.dn]),
		"code": fault.code,
		"dn": fault.dn,
		"severity": fault.severity,
	}
}
`,
	}
}

// majorFaultsPolicy blocks on any new major fault. Disabled by default.
func majorFaultsPolicy() Policy {
	return Policy{
		Name:        PolicyMajorFaults,
		Description: "Blocks the workflow when a new major fault is raised",
		Enabled:     false,
		Tags:        []string{"faults", "severity"},
		Rego: `package fabricupgrade.faults.major

import rego.v1

deny contains violation if {
	some fault in input.faults
	fault.severity == "major"
	violation := {
		"message": sprintf("new major fault %s at %s", [fault.code, fault.dn]),
		"code": fault.code,
		"dn": fault.dn,
		"severity": fault.severity,
	}
}
`,
	}
}
