package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/fabric"
	"github.com/openfroyo/fabricupgrade/pkg/fabric/fabrictest"
)

// healthyFabric passes every built-in check: it has no objects other than a
// backup taken an hour before fabrictest.Epoch.
func healthyFabric() *fabrictest.Fabric {
	return fabrictest.New().Set(fabric.ClassConfigJob, fabrictest.Record(
		"dn", "uni/backupst/jobs-[uni/fabric/configexp-daily]/run-1",
		"executeTime", "2024-03-01T11:00:00.000+00:00",
		"operSt", "success",
	))
}

func TestChecker_Registry(t *testing.T) {
	c := &Checker{}
	registry, err := c.Registry()
	require.NoError(t, err)

	names := registry.Names()
	assert.Len(t, names, len(Names())-1)
	assert.Equal(t, CheckFirmwareDownload, names[0])
	assert.NotContains(t, names, CheckNTP)
}

func TestChecker_RegistryOptions(t *testing.T) {
	script, err := NewScriptCheck("tenant-count", "def check():\n    return count(\"fvTenant\") < 100\n")
	require.NoError(t, err)

	c := &Checker{
		Disabled:  []string{CheckVCenter, CheckDVS},
		EnableNTP: true,
		Scripts:   []*ScriptCheck{script},
	}
	registry, err := c.Registry()
	require.NoError(t, err)

	names := registry.Names()
	assert.NotContains(t, names, CheckVCenter)
	assert.NotContains(t, names, CheckDVS)
	assert.Contains(t, names, CheckNTP)
	assert.Equal(t, "tenant-count", names[len(names)-1])
}

func TestChecker_RegistryErrors(t *testing.T) {
	_, err := (&Checker{Disabled: []string{"bogus"}}).Registry()
	assert.ErrorContains(t, err, `unknown health check "bogus"`)

	script, err := NewScriptCheck(CheckVPC, "def check():\n    return True\n")
	require.NoError(t, err)
	_, err = (&Checker{Scripts: []*ScriptCheck{script}}).Registry()
	assert.True(t, errors.Is(err, engine.ErrDuplicateCheck))
}

func TestChecker_Run(t *testing.T) {
	f := healthyFabric()
	fx := newChecker(f)

	assert.Equal(t, engine.Success, fx.checker.Run(context.Background(), time.Minute))
	assert.Zero(t, fx.clock.Elapsed())
	assert.Contains(t, fx.logs.String(), "Checking: last-backup...")
	assert.Contains(t, fx.logs.String(), "Health check successful.")
	assert.Empty(t, f.QueriesOf(fabric.ClassClockPolicy))
}

func TestChecker_RunFailsFast(t *testing.T) {
	f := healthyFabric().Set(fabric.ClassVPCDomain,
		fabrictest.Record("dn", node101+"/sys/vpc/inst/dom-10", "id", "10", "peerSt", "down"))
	fx := newChecker(f)

	assert.Equal(t, engine.Failure, fx.checker.Run(context.Background(), time.Hour))
	assert.Zero(t, fx.clock.Elapsed())
	assert.Contains(t, fx.logs.String(), "Health check failed.")
	// Checks after the failing one never run.
	assert.Empty(t, f.QueriesOf(fabric.ClassConfigJob))
}

func TestChecker_RunRetriesQueryErrors(t *testing.T) {
	f := healthyFabric().Fail(fabric.ClassVPCDomain, engine.NewTransientError("connection reset", nil))
	fx := newChecker(f)

	assert.Equal(t, engine.Success, fx.checker.Run(context.Background(), time.Minute))
	assert.Equal(t, 10*time.Second, fx.clock.Elapsed())
	// The first pass stopped at the vPC check; the second ran every check.
	assert.Len(t, f.QueriesOf(fabric.ClassFirmware), 2)
	assert.Len(t, f.QueriesOf(fabric.ClassConfigJob), 1)
}

func TestChecker_RunDisabled(t *testing.T) {
	f := fabrictest.New()
	fx := newChecker(f)

	assert.Equal(t, engine.Failure, fx.checker.Run(context.Background(), time.Minute))

	fx = newChecker(f)
	fx.checker.Disabled = []string{CheckBackup}
	assert.Equal(t, engine.Success, fx.checker.Run(context.Background(), time.Minute))
}

func TestChecker_RunInvalidConfig(t *testing.T) {
	f := healthyFabric()
	fx := newChecker(f)
	fx.checker.Disabled = []string{"bogus"}

	assert.Equal(t, engine.Failure, fx.checker.Run(context.Background(), time.Minute))
	assert.Empty(t, f.Queries)
	assert.Contains(t, fx.logs.String(), "Unable to build health checks")
}

func TestChecker_RunRereadsCapabilityRules(t *testing.T) {
	f := healthyFabric().Set(fabric.ClassCapRule,
		fabrictest.Record("dn", "uni/fabric/compcat-default/fvsw-default/capabilities/fvcaprule-fvBD-scope-fabric-type-limit",
			"subj", "fvBD", "constraint", "100"),
	)
	fx := newChecker(f)

	assert.Equal(t, engine.Success, fx.checker.Run(context.Background(), time.Minute))
	assert.Len(t, f.QueriesOf(fabric.ClassCapRule), 1)

	assert.Equal(t, engine.Success, fx.checker.Run(context.Background(), time.Minute))
	assert.Len(t, f.QueriesOf(fabric.ClassCapRule), 2)
}
