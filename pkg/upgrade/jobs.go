package upgrade

import (
	"context"
	"net/http"
	"time"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/fabric"
	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
	"github.com/openfroyo/fabricupgrade/pkg/transports/ssh"
)

// Job states reported by the controller.
const (
	configJobSuccess   = "success"
	techSupportSuccess = "success"
)

// Upgrader triggers controller jobs and waits for them through a retry loop.
type Upgrader struct {
	Loop   *engine.RetryLoop
	Clock  engine.Clock
	Logger *telemetry.Logger

	// Artifacts, when set, downloads the tech-support bundles once the
	// export finished.
	Artifacts *ArtifactDownload
}

// ArtifactDownload copies files from a controller over SFTP.
type ArtifactDownload struct {
	Transport ssh.Transport
	RemoteDir string
	LocalDir  string
}

func (u *Upgrader) logger() *telemetry.Logger {
	if u.Logger == nil {
		return telemetry.NewNopLogger()
	}
	return u.Logger
}

func (u *Upgrader) clock() engine.Clock {
	if u.Clock == nil {
		return engine.RealClock()
	}
	return u.Clock
}

// post returns an operation that sends body to the managed object at dn and
// fails on any status other than 200.
func post(dn string, body mo, failure string) engine.Operation {
	return func(ctx context.Context, s engine.Session) (engine.Outcome, error) {
		status, err := s.Request(ctx, http.MethodPost, moPath(dn), body)
		if err != nil {
			return engine.Pending, err
		}
		if status != http.StatusOK {
			telemetry.FromContext(ctx).WithField("code", status).Error(failure)
			return engine.Failure, nil
		}
		return engine.Success, nil
	}
}

// Backup triggers the configuration export policy job and waits for the
// newest export job to succeed.
func (u *Upgrader) Backup(ctx context.Context, job string, timeout time.Duration) engine.Outcome {
	logger := u.logger().WithField("job", job)
	ctx = logger.WithContext(ctx)
	deadline := u.Loop.Deadline(timeout)

	logger.Info("Triggering configuration backup...")
	dn := "uni/fabric/configexp-" + job
	body := newMO("configExportP", map[string]string{
		"dn":      dn,
		"adminSt": "triggered",
	})
	if outcome := u.Loop.RunUntil(ctx, "backup trigger", deadline, post(dn, body, "Failed to run backup")); outcome != engine.Success {
		return outcome
	}

	jobsDN := "uni/backupst/jobs-[" + dn + "]"
	outcome := u.Loop.RunUntil(ctx, "backup verify", deadline, func(ctx context.Context, s engine.Session) (engine.Outcome, error) {
		records, err := s.GetObject(ctx, jobsDN, fabric.ClassConfigJob, &engine.Query{
			Target:             "children",
			TargetSubtreeClass: fabric.ClassConfigJob,
		})
		if err != nil {
			return engine.Pending, err
		}
		jobs, err := fabric.DecodeAll[fabric.ConfigJob](records)
		if err != nil {
			return engine.Pending, err
		}
		if len(jobs) == 0 {
			logger.Debug("No backup job reported yet")
			return engine.Pending, nil
		}
		last := jobs[len(jobs)-1]
		if last.OperSt == configJobSuccess {
			return engine.Success, nil
		}
		logger.Debugf("status: %s", last.OperSt)
		return engine.Pending, nil
	})
	if outcome == engine.Success {
		logger.Info("Backup successful.")
	}
	return outcome
}

// TechSupport triggers the on-demand tech-support export policy and waits
// for its export status to succeed.
func (u *Upgrader) TechSupport(ctx context.Context, name string, timeout time.Duration) engine.Outcome {
	logger := u.logger().WithField("job", name)
	ctx = logger.WithContext(ctx)
	deadline := u.Loop.Deadline(timeout)

	logger.Info("Collecting tech-support from APICs...")
	dn := "uni/fabric/tsexp-" + name
	body := newMO("dbgexpTechSupP", map[string]string{
		"dn":      dn,
		"rn":      "tsexp-" + name,
		"adminSt": "triggered",
	})
	if outcome := u.Loop.RunUntil(ctx, "tech support trigger", deadline, post(dn, body, "Failed to collect tech support")); outcome != engine.Success {
		return outcome
	}

	statusDN := "expcont/expstatus-tsexp-" + name
	outcome := u.Loop.RunUntil(ctx, "tech support verify", deadline, func(ctx context.Context, s engine.Session) (engine.Outcome, error) {
		records, err := s.GetObject(ctx, statusDN, fabric.ClassTechSupStatus, &engine.Query{
			Target:             "subtree",
			TargetSubtreeClass: fabric.ClassTechSupStatus,
		})
		if err != nil {
			return engine.Pending, err
		}
		if len(records) == 0 {
			logger.Debug("No tech support status reported yet")
			return engine.Pending, nil
		}
		status := records[len(records)-1].Get("exportStatus")
		logger.Debugf("tech support status: %s", status)
		if status == techSupportSuccess {
			return engine.Success, nil
		}
		return engine.Pending, nil
	})
	if outcome != engine.Success {
		return outcome
	}
	logger.Info("Tech support successful.")

	if u.Artifacts == nil {
		return engine.Success
	}
	return u.downloadBundles(ctx, name, deadline)
}

func (u *Upgrader) downloadBundles(ctx context.Context, name string, deadline time.Time) engine.Outcome {
	a := u.Artifacts
	pattern := "*" + name + "*"
	logger := u.logger().WithFields(map[string]interface{}{
		"remote_dir": a.RemoteDir,
		"local_dir":  a.LocalDir,
		"pattern":    pattern,
	})

	return u.Loop.RunUntil(ctx, "tech support download", deadline, func(ctx context.Context, _ engine.Session) (engine.Outcome, error) {
		results, err := a.fetch(ctx, pattern)
		if err != nil {
			if engine.IsPermanent(err) || engine.IsAuth(err) {
				logger.WithError(err).Error("Unable to download tech support")
				return engine.Failure, nil
			}
			return engine.Pending, err
		}
		if len(results) == 0 {
			logger.Debug("No tech support bundles found yet")
			return engine.Pending, nil
		}
		for _, r := range results {
			logger.WithFields(map[string]interface{}{
				"file":     r.LocalPath,
				"bytes":    r.BytesTransferred,
				"checksum": r.Checksum,
			}).Info("Downloaded tech support bundle")
		}
		return engine.Success, nil
	})
}

func (a *ArtifactDownload) fetch(ctx context.Context, pattern string) ([]ssh.FileTransferResult, error) {
	if err := a.Transport.Connect(ctx); err != nil {
		return nil, ssh.Classify(err)
	}
	defer a.Transport.Disconnect()

	results, err := a.Transport.DownloadMatching(ctx, a.RemoteDir, pattern, a.LocalDir)
	if err != nil {
		return nil, ssh.Classify(err)
	}
	return results, nil
}
