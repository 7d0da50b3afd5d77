package health

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/fabric"
	"github.com/openfroyo/fabricupgrade/pkg/fabric/fabrictest"
	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
)

const node101 = "topology/pod-1/node-101"

type checkerFixture struct {
	clock   *fabrictest.Clock
	logs    *bytes.Buffer
	checker *Checker
}

func newChecker(f *fabrictest.Fabric) *checkerFixture {
	clk := fabrictest.NewClock()
	logs := &bytes.Buffer{}
	return &checkerFixture{
		clock: clk,
		logs:  logs,
		checker: &Checker{
			Loop:   fabrictest.NewLoop(f, clk, 10*time.Second),
			Clock:  clk,
			Logger: telemetry.NewLoggerFrom(zerolog.New(logs)),
		},
	}
}

func capRule(dn, subject, limit string) engine.Attributes {
	return fabrictest.Record("dn", dn, "subj", subject, "constraint", limit)
}

func nRecords(class string, n int) []engine.Attributes {
	out := make([]engine.Attributes, n)
	for i := range out {
		out[i] = fabrictest.Record("dn", "uni/"+class)
	}
	return out
}

func TestCheckFirmwareDownload(t *testing.T) {
	tests := []struct {
		name    string
		images  []engine.Attributes
		want    engine.Outcome
		wantLog string
	}{
		{
			name: "all downloaded",
			images: []engine.Attributes{
				fabrictest.Record("dn", "fwrepo/fw-aci-apic-dk9.6.1.1f", "fullVersion", "apic-6.1(1f)", "dnldStatus", "downloaded"),
				fabrictest.Record("dn", "fwrepo/fw-aci-n9000-dk9.16.1.1f", "fullVersion", "n9000-16.1(1f)", "dnldStatus", "downloaded"),
			},
			want: engine.Success,
		},
		{
			name: "catalog entries without version are ignored",
			images: []engine.Attributes{
				fabrictest.Record("dn", "fwrepo/fw-catalog", "fullVersion", "", "dnldStatus", "failed"),
			},
			want: engine.Success,
		},
		{
			name: "failed download",
			images: []engine.Attributes{
				fabrictest.Record("dn", "fwrepo/fw-aci-n9000-dk9.16.1.1f", "fullVersion", "n9000-16.1(1f)",
					"dnldStatus", "failed", "description", "checksum mismatch"),
			},
			want:    engine.Failure,
			wantLog: "Failed firmware download",
		},
		{
			name: "empty repository",
			want: engine.Success,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fabrictest.New().Set(fabric.ClassFirmware, tt.images...)
			fx := newChecker(f)

			outcome, err := fx.checker.checkFirmwareDownload(context.Background(), f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome)
			if tt.wantLog != "" {
				assert.Contains(t, fx.logs.String(), tt.wantLog)
			}
		})
	}
}

func TestCheckRunningFirmware(t *testing.T) {
	f := fabrictest.New().
		Set(fabric.ClassFirmwareRunning,
			fabrictest.Record("dn", node101+"/sys/fwstatuscont/running", "peVer", "16.0(3b)"),
			fabrictest.Record("dn", "topology/pod-1/node-102/sys/fwstatuscont/running", "peVer", "16.0(4a)"),
		).
		Set(fabric.ClassCtrlrRunning,
			fabrictest.Record("dn", "topology/pod-1/node-1/sys/ctrlrfwstatuscont/ctrlrrunning", "version", "6.0(3b)"),
		)
	fx := newChecker(f)

	outcome, err := fx.checker.checkRunningFirmware(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, engine.Success, outcome)
	assert.Contains(t, fx.logs.String(), "Multiple firmware versions found")
}

func TestCheckMaintenanceGroups(t *testing.T) {
	devices := []engine.Attributes{
		fabrictest.Record("dn", "topology/pod-1/node-1/sys", "role", "controller", "name", "apic1"),
		fabrictest.Record("dn", node101+"/sys", "role", "leaf", "name", "leaf101"),
		fabrictest.Record("dn", "topology/pod-1/node-201/sys", "role", "spine", "name", "spine201"),
	}
	job := func(node, group string) engine.Attributes {
		return fabrictest.Record("dn", "topology/pod-1/node-"+node+"/sys/fwstatuscont/upgjob", "maintGrp", group)
	}

	t.Run("all grouped", func(t *testing.T) {
		f := fabrictest.New().
			Set(fabric.ClassTopSystem, devices...).
			Set(fabric.ClassMaintUpgJob, job("101", "odd"), job("201", "even"))
		fx := newChecker(f)

		outcome, err := fx.checker.checkMaintenanceGroups(context.Background(), f)
		require.NoError(t, err)
		assert.Equal(t, engine.Success, outcome)
	})

	t.Run("switch without group", func(t *testing.T) {
		f := fabrictest.New().
			Set(fabric.ClassTopSystem, devices...).
			Set(fabric.ClassMaintUpgJob, job("101", "odd"), job("201", ""))
		fx := newChecker(f)

		outcome, err := fx.checker.checkMaintenanceGroups(context.Background(), f)
		require.NoError(t, err)
		assert.Equal(t, engine.Failure, outcome)
		assert.Contains(t, fx.logs.String(), "spine201")
	})
}

func TestCheckFabricScale(t *testing.T) {
	rules := []engine.Attributes{
		capRule("uni/fabric/compcat-default/fvsw-default/capabilities/fvcaprule-fvCEp-scope-fabric-type-limit", "fvCEp", "2"),
		capRule("uni/fabric/compcat-default/fvsw-default/capabilities/fvcaprule-fvBD-scope-fabric-type-limit", "fvBD", "100"),
		capRule(node101+"/sys/caprule-fvCEp", "fvCEp", "1"),
	}

	t.Run("within limits", func(t *testing.T) {
		f := fabrictest.New().
			Set(fabric.ClassCapRule, rules...).
			Set("fvCEp", nRecords("fvCEp", 2)...).
			Set("fvBD", nRecords("fvBD", 5)...).
			Set("vzBrCP", nRecords("vzBrCP", 3)...)
		fx := newChecker(f)

		outcome, err := fx.checker.checkFabricScale(context.Background(), f)
		require.NoError(t, err)
		assert.Equal(t, engine.Success, outcome)
		// Classes without a published or static limit are not counted.
		assert.Empty(t, f.QueriesOf("fvTenant"))
		assert.Len(t, f.QueriesOf("vzFilter"), 1)
	})

	t.Run("over limit", func(t *testing.T) {
		f := fabrictest.New().
			Set(fabric.ClassCapRule, rules...).
			Set("fvCEp", nRecords("fvCEp", 3)...)
		fx := newChecker(f)

		outcome, err := fx.checker.checkFabricScale(context.Background(), f)
		require.NoError(t, err)
		assert.Equal(t, engine.Failure, outcome)
		assert.Contains(t, fx.logs.String(), "Over scale limit for fvCEp")
	})
}

func TestCheckSwitchScale(t *testing.T) {
	count := func(name, n string) engine.Attributes {
		return fabrictest.Record("dn", node101+"/sys/ctx-[vxlan-2097152]/ctxclasscnt-"+name, "name", name, "count", n)
	}
	tests := []struct {
		name   string
		counts []engine.Attributes
		rules  []engine.Attributes
		want   engine.Outcome
	}{
		{
			name:   "below limit",
			counts: []engine.Attributes{count("l2BD", "10"), count("l3Dom", "0")},
			rules:  []engine.Attributes{capRule(node101+"/sys/caprule-fvBD", "fvBD", "3500")},
			want:   engine.Success,
		},
		{
			name:   "at limit",
			counts: []engine.Attributes{count("fvEpP", "500")},
			rules:  []engine.Attributes{capRule(node101+"/sys/caprule-fvCEp", "fvCEp", "500")},
			want:   engine.Failure,
		},
		{
			name:   "no limit published",
			counts: []engine.Attributes{count("l3Dom", "2")},
			want:   engine.Failure,
		},
		{
			name:   "unmapped counts are ignored",
			counts: []engine.Attributes{count("vlanCktEp", "9000")},
			want:   engine.Success,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fabrictest.New().
				Set(fabric.ClassCtxClassCnt, tt.counts...).
				Set(fabric.ClassCapRule, tt.rules...)
			fx := newChecker(f)

			outcome, err := fx.checker.checkSwitchScale(context.Background(), f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome)

			queries := f.QueriesOf(fabric.ClassCtxClassCnt)
			require.Len(t, queries, 1)
			assert.Equal(t, "l2BD,fvEpP,l3Dom", queries[0].Query.SubtreeClass)
		})
	}
}

func TestCapabilityRulesQueriedOnce(t *testing.T) {
	f := fabrictest.New().Set(fabric.ClassCapRule,
		capRule("uni/fabric/compcat-default/fvsw-default/capabilities/fvcaprule-fvBD-scope-fabric-type-limit", "fvBD", "100"),
	)
	fx := newChecker(f)

	for i := 0; i < 2; i++ {
		_, err := fx.checker.checkFabricScale(context.Background(), f)
		require.NoError(t, err)
		_, err = fx.checker.checkSwitchScale(context.Background(), f)
		require.NoError(t, err)
	}
	assert.Len(t, f.QueriesOf(fabric.ClassCapRule), 1)
}

func TestCheckTCAMScale(t *testing.T) {
	usage := func(used, capacity string) engine.Attributes {
		return fabrictest.Record("dn", node101+"/sys/eqptcapacity/CDeqptcapacityPolUsage5min",
			"polUsageCum", used, "polUsageCapCum", capacity)
	}
	tests := []struct {
		name  string
		usage engine.Attributes
		want  engine.Outcome
	}{
		{"below capacity", usage("1200", "61440"), engine.Success},
		{"at capacity", usage("61440", "61440"), engine.Failure},
		{"unused", usage("0", "0"), engine.Success},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fabrictest.New().Set(fabric.ClassPolUsage, tt.usage)
			fx := newChecker(f)

			outcome, err := fx.checker.checkTCAMScale(context.Background(), f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome)
		})
	}
}

func TestStateChecks(t *testing.T) {
	tests := []struct {
		name   string
		class  string
		check  func(*Checker) engine.Operation
		good   engine.Attributes
		bad    engine.Attributes
		badLog string
	}{
		{
			name:   "vpc",
			class:  fabric.ClassVPCDomain,
			check:  func(c *Checker) engine.Operation { return c.checkVPC },
			good:   fabrictest.Record("dn", node101+"/sys/vpc/inst/dom-10", "id", "10", "peerSt", "up"),
			bad:    fabrictest.Record("dn", node101+"/sys/vpc/inst/dom-10", "id", "10", "peerSt", "down"),
			badLog: "vPC not up",
		},
		{
			name:   "apic cluster",
			class:  fabric.ClassControllerNode,
			check:  func(c *Checker) engine.Operation { return c.checkAPICCluster },
			good:   fabrictest.Record("dn", "topology/pod-1/node-1/av/node-2", "id", "2", "nodeName", "apic2", "health", "fully-fit"),
			bad:    fabrictest.Record("dn", "topology/pod-1/node-1/av/node-2", "id", "2", "nodeName", "apic2", "health", "data-layer-partially-diverged"),
			badLog: "Controller not fully-fit",
		},
		{
			name:   "vcenter",
			class:  fabric.ClassVMMController,
			check:  func(c *Checker) engine.Operation { return c.checkVCenter },
			good:   fabrictest.Record("dn", "comp/prov-VMware/ctrlr-[dc1]-vc1", "name", "vc1", "operSt", "online"),
			bad:    fabrictest.Record("dn", "comp/prov-VMware/ctrlr-[dc1]-vc1", "name", "vc1", "operSt", "offline"),
			badLog: "vCenter offline",
		},
		{
			name:   "dvs",
			class:  fabric.ClassHypervisor,
			check:  func(c *Checker) engine.Operation { return c.checkDVS },
			good:   fabrictest.Record("dn", "comp/prov-VMware/ctrlr-[dc1]-vc1/hv-host-1", "name", "esx1", "state", "poweredOn"),
			bad:    fabrictest.Record("dn", "comp/prov-VMware/ctrlr-[dc1]-vc1/hv-host-1", "name", "esx1", "state", "poweredOff"),
			badLog: "vSwitch offline",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			good := fabrictest.New().Set(tt.class, tt.good)
			outcome, err := tt.check(newChecker(good).checker)(context.Background(), good)
			require.NoError(t, err)
			assert.Equal(t, engine.Success, outcome)

			bad := fabrictest.New().Set(tt.class, tt.good, tt.bad)
			fx := newChecker(bad)
			outcome, err = tt.check(fx.checker)(context.Background(), bad)
			require.NoError(t, err)
			assert.Equal(t, engine.Failure, outcome)
			assert.Contains(t, fx.logs.String(), tt.badLog)
		})
	}
}

func TestCheckAPICInterfaces(t *testing.T) {
	iface := func(node, id, state string) engine.Attributes {
		return fabrictest.Record("dn", "topology/pod-1/node-"+node+"/sys/cnw/phys-["+id+"]", "id", id, "operSt", state)
	}

	t.Run("redundant", func(t *testing.T) {
		f := fabrictest.New().Set(fabric.ClassPhysIf,
			iface("1", "eth2-1", "up"), iface("1", "eth2-2", "up"),
			iface("2", "eth2-1", "up"), iface("2", "eth2-2", "up"),
		)
		outcome, err := newChecker(f).checker.checkAPICInterfaces(context.Background(), f)
		require.NoError(t, err)
		assert.Equal(t, engine.Success, outcome)
	})

	t.Run("single link", func(t *testing.T) {
		f := fabrictest.New().Set(fabric.ClassPhysIf,
			iface("1", "eth2-1", "up"), iface("1", "eth2-2", "up"),
			iface("2", "eth2-1", "up"), iface("2", "eth2-2", "down"),
		)
		fx := newChecker(f)
		outcome, err := fx.checker.checkAPICInterfaces(context.Background(), f)
		require.NoError(t, err)
		assert.Equal(t, engine.Failure, outcome)
		assert.Contains(t, fx.logs.String(), "topology/pod-1/node-2 has < 2 active interfaces")
	})
}

func TestCheckBackup(t *testing.T) {
	job := func(at, state string) engine.Attributes {
		return fabrictest.Record("dn", "uni/backupst/jobs-[uni/fabric/configexp-daily]/run-"+at,
			"executeTime", at, "operSt", state)
	}
	tests := []struct {
		name string
		jobs []engine.Attributes
		want engine.Outcome
	}{
		{
			name: "recent success",
			jobs: []engine.Attributes{job("2024-03-01T02:00:00.000+00:00", "success")},
			want: engine.Success,
		},
		{
			name: "recent success with offset",
			jobs: []engine.Attributes{job("2024-02-29T20:00:00.000-08:00", "success")},
			want: engine.Success,
		},
		{
			name: "stale",
			jobs: []engine.Attributes{job("2024-02-27T12:00:00.000+00:00", "success")},
			want: engine.Failure,
		},
		{
			name: "recent failure",
			jobs: []engine.Attributes{
				job("2024-02-20T12:00:00.000+00:00", "success"),
				job("2024-03-01T11:00:00.000+00:00", "failed"),
			},
			want: engine.Failure,
		},
		{
			name: "no backups",
			want: engine.Failure,
		},
		{
			name: "unparseable time",
			jobs: []engine.Attributes{job("yesterday", "success")},
			want: engine.Failure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fabrictest.New().Set(fabric.ClassConfigJob, tt.jobs...)
			fx := newChecker(f)

			outcome, err := fx.checker.checkBackup(context.Background(), f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome)
		})
	}
}

func TestCheckNTP(t *testing.T) {
	pol := func(status string) engine.Attributes {
		return fabrictest.Record("dn", "uni/fabric/time-default", "srvStatus", status)
	}

	f := fabrictest.New().Set(fabric.ClassClockPolicy, pol("unsynced"), pol("synced_remote_server"))
	outcome, err := newChecker(f).checker.checkNTP(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, engine.Success, outcome)

	f = fabrictest.New().Set(fabric.ClassClockPolicy, pol("unsynced"), pol("not_synced"))
	fx := newChecker(f)
	outcome, err = fx.checker.checkNTP(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, engine.Failure, outcome)
	assert.Contains(t, fx.logs.String(), "NTP not synced")
}

func TestChecksReturnQueryErrors(t *testing.T) {
	f := fabrictest.New().Fail(fabric.ClassVPCDomain, engine.NewTransientError("connection reset", nil))
	fx := newChecker(f)

	outcome, err := fx.checker.checkVPC(context.Background(), f)
	assert.Equal(t, engine.Pending, outcome)
	assert.True(t, engine.IsTransient(err))
}

func TestChecksRejectRecordsWithoutDN(t *testing.T) {
	f := fabrictest.New().Set(fabric.ClassVPCDomain, fabrictest.Record("peerSt", "up"))
	fx := newChecker(f)

	outcome, err := fx.checker.checkVPC(context.Background(), f)
	assert.Equal(t, engine.Pending, outcome)
	assert.True(t, engine.IsPermanent(err))
}
