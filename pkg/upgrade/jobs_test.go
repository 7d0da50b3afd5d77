package upgrade

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/fabric"
	"github.com/openfroyo/fabricupgrade/pkg/fabric/fabrictest"
	"github.com/openfroyo/fabricupgrade/pkg/transports/ssh"
)

const (
	backupJobsDN = "uni/backupst/jobs-[uni/fabric/configexp-defaultOneTime]"
	tsStatusDN   = "expcont/expstatus-tsexp-preupgrade"
)

func configJob(status string) engine.Attributes {
	return fabrictest.Record("dn", backupJobsDN+"/job-1", "operSt", status)
}

func TestBackup(t *testing.T) {
	f := fabrictest.New().SetObject(backupJobsDN, fabric.ClassConfigJob,
		configJob("failed"),
		configJob("success"),
	)
	fx := newUpgraderFixture(f)

	outcome := fx.upgrader.Backup(context.Background(), "defaultOneTime", time.Minute)
	assert.Equal(t, engine.Success, outcome)

	reqs := f.RequestsTo("/api/node/mo/uni/fabric/configexp-defaultOneTime")
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.JSONEq(t, `{"configExportP": {
		"attributes": {"dn": "uni/fabric/configexp-defaultOneTime", "adminSt": "triggered"},
		"children": []
	}}`, requestJSON(t, reqs[0]))

	queries := f.QueriesOf(fabric.ClassConfigJob)
	require.Len(t, queries, 1)
	assert.Equal(t, backupJobsDN, queries[0].DN)
	assert.Equal(t, "children", queries[0].Query.Target)
	assert.Equal(t, fabric.ClassConfigJob, queries[0].Query.TargetSubtreeClass)
	assert.Contains(t, fx.logs.String(), "Backup successful.")
}

func TestBackup_LastJobDecides(t *testing.T) {
	f := fabrictest.New().SetObject(backupJobsDN, fabric.ClassConfigJob,
		configJob("success"),
		configJob("running"),
	)
	fx := newUpgraderFixture(f)

	outcome := fx.upgrader.Backup(context.Background(), "defaultOneTime", 20*time.Second)
	assert.Equal(t, engine.Failure, outcome)
	assert.Equal(t, 30*time.Second, fx.clock.Elapsed())
}

func TestBackup_NoJobsYet(t *testing.T) {
	f := fabrictest.New()
	fx := newUpgraderFixture(f)

	outcome := fx.upgrader.Backup(context.Background(), "defaultOneTime", 10*time.Second)
	assert.Equal(t, engine.Failure, outcome)
	assert.Len(t, f.QueriesOf(fabric.ClassConfigJob), 2)
}

func TestBackup_TriggerRejected(t *testing.T) {
	f := fabrictest.New()
	f.OnRequest = func(fabrictest.Request) int { return http.StatusInternalServerError }
	fx := newUpgraderFixture(f)

	outcome := fx.upgrader.Backup(context.Background(), "defaultOneTime", time.Minute)
	assert.Equal(t, engine.Failure, outcome)
	assert.Empty(t, f.QueriesOf(fabric.ClassConfigJob))
	assert.Contains(t, fx.logs.String(), "Failed to run backup")
}

func TestTechSupport(t *testing.T) {
	f := fabrictest.New().SetObject(tsStatusDN, fabric.ClassTechSupStatus,
		fabrictest.Record("dn", tsStatusDN+"/node-1", "exportStatus", "success"),
	)
	fx := newUpgraderFixture(f)

	outcome := fx.upgrader.TechSupport(context.Background(), "preupgrade", time.Minute)
	assert.Equal(t, engine.Success, outcome)

	reqs := f.RequestsTo("/api/node/mo/uni/fabric/tsexp-preupgrade")
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"dbgexpTechSupP": {
		"attributes": {"dn": "uni/fabric/tsexp-preupgrade", "rn": "tsexp-preupgrade", "adminSt": "triggered"},
		"children": []
	}}`, requestJSON(t, reqs[0]))

	queries := f.QueriesOf(fabric.ClassTechSupStatus)
	require.Len(t, queries, 1)
	assert.Equal(t, "subtree", queries[0].Query.Target)
	assert.Contains(t, fx.logs.String(), "Tech support successful.")
}

func TestTechSupport_WaitsForExport(t *testing.T) {
	f := fabrictest.New().SetObject(tsStatusDN, fabric.ClassTechSupStatus,
		fabrictest.Record("dn", tsStatusDN+"/node-1", "exportStatus", "running"),
	)
	fx := newUpgraderFixture(f)

	outcome := fx.upgrader.TechSupport(context.Background(), "preupgrade", 10*time.Second)
	assert.Equal(t, engine.Failure, outcome)
	assert.NotContains(t, fx.logs.String(), "Tech support successful.")
}

// fakeTransport answers DownloadMatching from a script. The last step repeats.
type fakeTransport struct {
	steps    []downloadStep
	connects int
	patterns []string
}

type downloadStep struct {
	results []ssh.FileTransferResult
	err     error
}

func (f *fakeTransport) Connect(context.Context) error {
	f.connects++
	return nil
}

func (f *fakeTransport) Disconnect() error { return nil }

func (f *fakeTransport) IsConnected() bool { return false }

func (f *fakeTransport) DownloadFile(context.Context, string, string) (*ssh.FileTransferResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTransport) DownloadMatching(_ context.Context, _, pattern, _ string) ([]ssh.FileTransferResult, error) {
	f.patterns = append(f.patterns, pattern)
	step := f.steps[0]
	if len(f.steps) > 1 {
		f.steps = f.steps[1:]
	}
	return step.results, step.err
}

func (f *fakeTransport) GetConnectionInfo() ssh.ConnectionInfo {
	return ssh.ConnectionInfo{}
}

func techSupportDone() *fabrictest.Fabric {
	return fabrictest.New().SetObject(tsStatusDN, fabric.ClassTechSupStatus,
		fabrictest.Record("dn", tsStatusDN+"/node-1", "exportStatus", "success"),
	)
}

func TestTechSupport_DownloadsBundles(t *testing.T) {
	transport := &fakeTransport{steps: []downloadStep{
		{},
		{err: &ssh.TransportError{Op: "download", Err: errors.New("connection lost"), IsTemporary: true}},
		{results: []ssh.FileTransferResult{{
			RemotePath: "/data/techsupport/preupgrade_apic1.tgz",
			LocalPath:  filepath.Join("artifacts", "preupgrade_apic1.tgz"),
			Checksum:   "abc123",
		}}},
	}}
	fx := newUpgraderFixture(techSupportDone())
	fx.upgrader.Artifacts = &ArtifactDownload{
		Transport: transport,
		RemoteDir: "/data/techsupport",
		LocalDir:  "artifacts",
	}

	outcome := fx.upgrader.TechSupport(context.Background(), "preupgrade", time.Minute)
	assert.Equal(t, engine.Success, outcome)
	assert.Equal(t, 3, transport.connects)
	assert.Equal(t, []string{"*preupgrade*", "*preupgrade*", "*preupgrade*"}, transport.patterns)
	assert.Equal(t, 2*retryInterval, fx.clock.Elapsed())
	assert.Contains(t, fx.logs.String(), "Downloaded tech support bundle")
}

func TestTechSupport_DownloadFailsOnPermanentError(t *testing.T) {
	transport := &fakeTransport{steps: []downloadStep{
		{err: &ssh.TransportError{Op: "download", Err: errors.New("invalid pattern")}},
	}}
	fx := newUpgraderFixture(techSupportDone())
	fx.upgrader.Artifacts = &ArtifactDownload{Transport: transport, RemoteDir: "/data/techsupport", LocalDir: t.TempDir()}

	outcome := fx.upgrader.TechSupport(context.Background(), "preupgrade", time.Minute)
	assert.Equal(t, engine.Failure, outcome)
	assert.Equal(t, 1, transport.connects)
	assert.Zero(t, fx.clock.Elapsed())
}
