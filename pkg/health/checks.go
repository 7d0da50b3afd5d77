package health

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/fabric"
)

// staticLimits covers classes whose limits the controller does not publish.
var staticLimits = map[string]int{
	"vzBrCP":   10000,
	"vzFilter": 10000,
}

// fabricScaleClasses are counted fabric-wide, in report order.
var fabricScaleClasses = []struct {
	class string
	name  string
}{
	{"fvCEp", "endpoints"},
	{"fvAEPg", "EPGs"},
	{"fvBD", "BDs"},
	{"fvCtx", "VRFs"},
	{"fvTenant", "tenants"},
	{"vzBrCP", "contracts"},
	{"vzFilter", "filters"},
}

// switchCountLimits maps ctxClassCnt names to the fvcapRule subject that
// limits them.
var switchCountLimits = map[string]string{
	"l2BD":  "fvBD",
	"fvEpP": "fvCEp",
	"l3Dom": "fvCtx",
}

func getAll[T any](ctx context.Context, s engine.Session, class string, q *engine.Query) ([]T, error) {
	records, err := s.GetClass(ctx, class, q)
	if err != nil {
		return nil, err
	}
	return fabric.DecodeAll[T](records)
}

// checkFirmwareDownload verifies every image in the repository downloaded,
// not only the target image.
func (c *Checker) checkFirmwareDownload(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	images, err := getAll[fabric.Firmware](ctx, s, fabric.ClassFirmware, nil)
	if err != nil {
		return engine.Pending, err
	}
	for _, img := range images {
		if img.FullVersion == "" {
			continue
		}
		logger := c.logger().WithFields(map[string]interface{}{
			"name":   img.Name,
			"status": img.Status,
		})
		logger.Debug("Firmware download status")
		if !img.Downloaded() {
			logger.WithField("description", img.Description).Warn("Failed firmware download")
			return engine.Failure, nil
		}
	}
	return engine.Success, nil
}

// checkRunningFirmware only reports mixed versions.
func (c *Checker) checkRunningFirmware(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	versions := make(map[string]struct{})

	switches, err := s.GetClass(ctx, fabric.ClassFirmwareRunning, nil)
	if err != nil {
		return engine.Pending, err
	}
	for _, r := range switches {
		versions[r.Get("peVer")] = struct{}{}
	}
	controllers, err := s.GetClass(ctx, fabric.ClassCtrlrRunning, nil)
	if err != nil {
		return engine.Pending, err
	}
	for _, r := range controllers {
		versions[r.Get("version")] = struct{}{}
	}

	list := make([]string, 0, len(versions))
	for v := range versions {
		list = append(list, v)
	}
	sort.Strings(list)

	switch {
	case len(list) > 1:
		c.logger().WithField("versions", list).Warn("Multiple firmware versions found")
	case len(list) == 1:
		c.logger().WithField("version", list[0]).Debug("Firmware")
	}
	return engine.Success, nil
}

// checkMaintenanceGroups verifies every spine and leaf belongs to a
// maintenance group.
func (c *Checker) checkMaintenanceGroups(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	jobs, err := getAll[fabric.MaintJob](ctx, s, fabric.ClassMaintUpgJob, nil)
	if err != nil {
		return engine.Pending, err
	}
	grouped := make(map[string]bool)
	for _, job := range jobs {
		if job.Group != "" && strings.HasPrefix(job.DN, "topology") {
			grouped[fabric.NodeDN(job.DN)] = true
		}
	}

	devices, err := getAll[fabric.Device](ctx, s, fabric.ClassTopSystem, nil)
	if err != nil {
		return engine.Pending, err
	}
	for _, d := range devices {
		if d.IsSwitch() && !grouped[fabric.NodeDN(d.DN)] {
			c.logger().WithField("name", d.Name).Warn("Device not in maintenance group")
			return engine.Failure, nil
		}
	}
	c.logger().Debug("All devices in maintenance groups")
	return engine.Success, nil
}

// checkFabricScale verifies fabric-wide object counts stay within the
// published limits.
func (c *Checker) checkFabricScale(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	rules, err := c.capabilityRules(ctx, s)
	if err != nil {
		return engine.Pending, err
	}
	limits := make(map[string]int, len(staticLimits))
	for class, limit := range staticLimits {
		limits[class] = limit
	}
	for _, rule := range rules {
		if strings.HasPrefix(rule.DN, "uni") {
			limits[rule.Subject] = rule.Constraint
		}
	}

	outcome := engine.Success
	for _, metric := range fabricScaleClasses {
		limit, ok := limits[metric.class]
		if !ok {
			continue
		}
		count, err := s.Count(ctx, metric.class)
		if err != nil {
			return engine.Pending, err
		}
		logger := c.logger().WithFields(map[string]interface{}{
			"name":  metric.name,
			"mo":    metric.class,
			"count": count,
			"limit": limit,
		})
		if count > limit {
			logger.Warnf("Over scale limit for %s", metric.class)
			outcome = engine.Failure
			continue
		}
		logger.Debugf("Scale for %s", metric.name)
	}
	return outcome, nil
}

// checkSwitchScale verifies per-node counts stay below the node limits.
func (c *Checker) checkSwitchScale(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	counts, err := getAll[fabric.CtxClassCnt](ctx, s, fabric.ClassCtxClassCnt, &engine.Query{
		SubtreeClass: "l2BD,fvEpP,l3Dom",
	})
	if err != nil {
		return engine.Pending, err
	}

	type metric struct{ count, limit int }
	nodes := make(map[string]map[string]*metric)
	for _, r := range counts {
		subject, ok := switchCountLimits[r.Name]
		if !ok {
			continue
		}
		node := fabric.NodeDN(r.DN)
		if nodes[node] == nil {
			nodes[node] = make(map[string]*metric)
		}
		nodes[node][subject] = &metric{count: r.Count}
	}

	rules, err := c.capabilityRules(ctx, s)
	if err != nil {
		return engine.Pending, err
	}
	for _, rule := range rules {
		if !strings.HasPrefix(rule.DN, "topology") {
			continue
		}
		if m, ok := nodes[fabric.NodeDN(rule.DN)][rule.Subject]; ok {
			m.limit = rule.Constraint
		}
	}

	outcome := engine.Success
	for node, bySubject := range nodes {
		for subject, m := range bySubject {
			logger := c.logger().WithFields(map[string]interface{}{
				"mo":    subject,
				"count": m.count,
				"limit": m.limit,
			})
			if m.count > 0 && m.count >= m.limit {
				logger.Warnf("Over scale limit on %s", node)
				outcome = engine.Failure
				continue
			}
			logger.Debugf("Scale metric on %s", node)
		}
	}
	return outcome, nil
}

// checkTCAMScale verifies leaf policy TCAM usage stays below capacity.
func (c *Checker) checkTCAMScale(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	usage, err := getAll[fabric.PolicyUsage](ctx, s, fabric.ClassPolUsage, nil)
	if err != nil {
		return engine.Pending, err
	}
	outcome := engine.Success
	for _, u := range usage {
		node := fabric.NodeDN(u.DN)
		logger := c.logger().WithFields(map[string]interface{}{
			"count": u.Usage,
			"limit": u.Capacity,
		})
		if u.Usage > 0 && u.Usage >= u.Capacity {
			logger.Warnf("Over TCAM scale on %s", node)
			outcome = engine.Failure
			continue
		}
		logger.Debugf("TCAM scale on %s", node)
	}
	return outcome, nil
}

func (c *Checker) checkVPC(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	domains, err := getAll[fabric.VPCDomain](ctx, s, fabric.ClassVPCDomain, nil)
	if err != nil {
		return engine.Pending, err
	}
	for _, d := range domains {
		if d.PeerSt != "up" {
			c.logger().WithFields(map[string]interface{}{
				"id":    d.ID,
				"state": d.PeerSt,
			}).Warn("vPC not up")
			return engine.Failure, nil
		}
	}
	c.logger().Debug("All vPCs are up")
	return engine.Success, nil
}

func (c *Checker) checkAPICCluster(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	nodes, err := getAll[fabric.ControllerNode](ctx, s, fabric.ClassControllerNode, nil)
	if err != nil {
		return engine.Pending, err
	}
	for _, n := range nodes {
		if n.Health != "fully-fit" {
			c.logger().WithFields(map[string]interface{}{
				"id":     n.ID,
				"name":   n.NodeName,
				"health": n.Health,
			}).Warn("Controller not fully-fit")
			return engine.Failure, nil
		}
	}
	return engine.Success, nil
}

// checkAPICInterfaces verifies every controller has at least two interfaces
// up.
func (c *Checker) checkAPICInterfaces(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	ifs, err := getAll[fabric.PhysIf](ctx, s, fabric.ClassPhysIf, nil)
	if err != nil {
		return engine.Pending, err
	}
	up := make(map[string]map[string]bool)
	for _, i := range ifs {
		node := fabric.NodeDN(i.DN)
		if up[node] == nil {
			up[node] = make(map[string]bool)
		}
		if i.OperSt == "up" {
			up[node][i.ID] = true
		}
	}
	for node, ids := range up {
		if len(ids) < 2 {
			c.logger().WithField("active", len(ids)).Warnf("APIC %s has < 2 active interfaces", node)
			return engine.Failure, nil
		}
	}
	return engine.Success, nil
}

// backupTimeLayouts are tried in order on configJob.executeTime.
var backupTimeLayouts = []string{
	"2006-01-02T15:04:05.000-07:00",
	time.RFC3339,
}

func parseBackupTime(raw string) (time.Time, bool) {
	for _, layout := range backupTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	if len(raw) >= 19 {
		if t, err := time.Parse("2006-01-02T15:04:05", raw[:19]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// checkBackup verifies a configuration export succeeded in the last day.
func (c *Checker) checkBackup(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	jobs, err := getAll[fabric.ConfigJob](ctx, s, fabric.ClassConfigJob, nil)
	if err != nil {
		return engine.Pending, err
	}

	since := c.now().Add(-24 * time.Hour)
	var latest time.Time
	recent := false
	for _, job := range jobs {
		at, ok := parseBackupTime(job.ExecutionTime)
		if !ok {
			c.logger().WithField("dn", job.DN).Debugf("Unparseable backup time %q", job.ExecutionTime)
			continue
		}
		if at.After(latest) {
			latest = at
		}
		if !at.Before(since) && job.OperSt == "success" {
			recent = true
		}
	}

	last := "None"
	if !latest.IsZero() {
		last = latest.Format(time.RFC3339)
	}
	if !recent {
		c.logger().WithField("last_backup", last).Warn("Backup not performed within 24 hours")
		return engine.Failure, nil
	}
	c.logger().WithField("last_backup", last).Debug("Last backup performed within 24 hours")
	return engine.Success, nil
}

func (c *Checker) checkVCenter(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	ctrlrs, err := getAll[fabric.VMMController](ctx, s, fabric.ClassVMMController, nil)
	if err != nil {
		return engine.Pending, err
	}
	for _, v := range ctrlrs {
		if v.OperSt != "online" {
			c.logger().WithField("name", v.Name).Warn("vCenter offline")
			return engine.Failure, nil
		}
	}
	c.logger().Debug("All vCenter(s) online")
	return engine.Success, nil
}

func (c *Checker) checkDVS(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	hvs, err := getAll[fabric.Hypervisor](ctx, s, fabric.ClassHypervisor, nil)
	if err != nil {
		return engine.Pending, err
	}
	for _, hv := range hvs {
		if hv.State != "poweredOn" {
			c.logger().WithField("name", hv.Name).Warn("vSwitch offline")
			return engine.Failure, nil
		}
	}
	c.logger().Debug("All vSwitch(s) online")
	return engine.Success, nil
}

func (c *Checker) checkNTP(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	policies, err := getAll[fabric.ClockPolicy](ctx, s, fabric.ClassClockPolicy, nil)
	if err != nil {
		return engine.Pending, err
	}
	for _, p := range policies {
		if strings.HasPrefix(p.SrvStatus, "synced") {
			c.logger().Debug("NTP synced.")
			return engine.Success, nil
		}
	}
	c.logger().Warn("NTP not synced to at least 1 peer")
	return engine.Failure, nil
}
