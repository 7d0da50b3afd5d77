// Package policy decides with Open Policy Agent whether new faults found
// after a change block the upgrade workflow.
//
// Every policy is a Rego module defining a deny set over the input document:
//
//	{
//	  "faults": [{"dn": "...", "code": "F1394", "severity": "critical", ...}],
//	  "context": {"timestamp": "2024-03-01T12:00:00Z"}
//	}
//
// A non-empty deny set from any enabled policy blocks the workflow. Elements
// may be strings or objects with message, code, dn and severity keys.
//
// # Built-in Policies
//
//   - critical-faults: denies on any new critical fault (enabled)
//   - major-faults: denies on any new major fault (disabled)
//
// # Custom Policies
//
// Rego files are named after their file name and enabled on load. JSON files
// hold a serialized Policy. Loading a policy with the name of an existing one
// replaces it, so a custom critical-faults.rego overrides the built-in.
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/fabricupgrade/policies"}); err != nil {
//	    return err
//	}
//	cmp := &snapshot.Comparison{Previous: snap, Gate: eng}
//
// Modules are parsed with Rego v1 syntax.
package policy
