// Package config loads the fabric upgrade configuration.
//
// The configuration is a YAML file, config.yaml by default:
//
//	ip: apic1.example.com
//	usr: admin
//	login_interval: 60
//	retry_interval: 60
//	apic_version: 6.0(5h)
//	switch_version: 16.0(5h)
//	firmware_groups: [odd, even]
//	backup_job: defaultOneTime
//	tech_support: preupgrade
//	snapshot_file: snapshot.json
//	debug: false
//
// Files are checked in two passes. The raw YAML is unified with the
// embedded CUE schema (schema.cue), which rejects unknown keys and badly
// formed versions and reports file positions. The decoded Config is then
// checked with its validate struct tags.
//
// Keys missing from the file take the values of Default. The password may
// be left out of the file entirely: FABRIC_PWD overrides it, and
// PromptMissing reads it from the terminal as a last resort.
package config
