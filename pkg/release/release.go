package release

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	ocodes "go.opentelemetry.io/otel/codes"

	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/metrics"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/command"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/telemetry"
)

const (
	// CurrentLinkName is the symlink to the live release. It exists at
	// all times except before the first deploy.
	CurrentLinkName = "current"

	// NextLinkName marks a deploy in flight. It exists only between
	// pre-promotion setup and promotion; a leftover link from an
	// interrupted deploy is disposable.
	NextLinkName = "next"

	// SharedDirName holds the resources that survive across releases.
	// The tree itself is managed outside this system.
	SharedDirName = "shared"

	releaseDirPrefix = "build-"
)

// ReleaseDir returns the release directory for a run id.
func ReleaseDir(baseDir, runID string) string {
	return filepath.Join(baseDir, releaseDirPrefix+runID)
}

// Operation is a single deployment attempt against one target.
type Operation struct {
	Context    context.Context
	Logger     *log.Entry
	Repository string
	RunID      string
	BaseDir    string
	Bundle     []byte
}

// Deployer drives the release state machine: extract, manifest, shared
// links, pre-publish, promote, post-publish, cleanup. Hooks run through
// the configured Runner. Deployments are serialized per repository.
type Deployer struct {
	Runner *command.Runner
	locker *Locker
}

func NewDeployer(runner *command.Runner) *Deployer {
	return &Deployer{
		Runner: runner,
		locker: NewLocker(),
	}
}

// Deploy runs one deployment to completion. The returned transcript
// covers every hook that ran; on error it is also carried inside the
// returned Failure together with the stage that died.
//
// Pre-publish failure leaves the next link and the unpromoted release
// behind for the operator. Post-publish failure is reported but does
// not unwind the promotion. Cleanup failure is only logged.
func (d *Deployer) Deploy(op *Operation) (command.Transcript, error) {
	unlock := d.locker.Acquire(strings.ToLower(op.Repository))
	defer unlock()
	defer metrics.DeployStarted()()

	started := time.Now()

	ctx, span := telemetry.Tracer().Start(op.Context, "Deploy release")
	defer span.End()

	releaseDir := ReleaseDir(op.BaseDir, op.RunID)
	currentLink := filepath.Join(op.BaseDir, CurrentLinkName)
	nextLink := filepath.Join(op.BaseDir, NextLinkName)

	transcript := make(command.Transcript, 0)

	fail := func(stage Stage, err error) (command.Transcript, error) {
		span.SetStatus(ocodes.Error, err.Error())
		metrics.DeployFailed(string(stage))
		op.Logger.Errorf("Deployment failed in stage %s: %s", stage, err)
		return transcript, &Failure{
			Stage:      stage,
			Err:        err,
			Transcript: transcript,
		}
	}

	op.Logger.Infof("Starting deployment")

	err := stage(ctx, "Extract bundle", func(context.Context) error {
		return ExtractArchive(op.Bundle, releaseDir)
	})
	if err != nil {
		// the partial release directory is left for inspection
		return fail(StageExtract, err)
	}

	var manifest *Manifest
	err = stage(ctx, "Consume manifest", func(context.Context) error {
		var err error
		manifest, err = ConsumeManifest(releaseDir)
		return err
	})
	if err != nil {
		return fail(StageManifest, err)
	}
	if manifest == nil {
		manifest = &Manifest{}
		op.Logger.Debugf("Release carries no manifest; no shared resources, no hooks")
	}

	err = stage(ctx, "Mark deploy in flight", func(context.Context) error {
		if err := os.Remove(nextLink); err != nil && !os.IsNotExist(err) {
			return err
		}
		return os.Symlink(releaseDir, nextLink)
	})
	if err != nil {
		return fail(StagePromote, err)
	}

	err = stage(ctx, "Link shared resources", func(context.Context) error {
		return LinkShared(manifest.Shared, releaseDir, filepath.Join(op.BaseDir, SharedDirName))
	})
	if err != nil {
		return fail(StageLinkShared, err)
	}

	pre, err := d.hooks(ctx, "Run pre-publish hooks", op.BaseDir, manifest.PrePublish)
	transcript = append(transcript, pre...)
	if err != nil {
		return fail(StagePrePublish, err)
	}

	var previousDir string
	err = stage(ctx, "Promote release", func(context.Context) error {
		var err error
		previousDir, err = readLinkIfExists(currentLink)
		if err != nil {
			return err
		}
		err = replaceSymlinkAtomic(currentLink, releaseDir)
		if err != nil {
			return err
		}
		if err := os.Remove(nextLink); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
	if err != nil {
		// pointer state is left exactly as it lies
		return fail(StagePromote, err)
	}

	op.Logger.Infof("Release %s is live", op.RunID)

	post, err := d.hooks(ctx, "Run post-publish hooks", op.BaseDir, manifest.PostPublish)
	transcript = append(transcript, post...)
	if err != nil {
		return fail(StagePostPublish, err)
	}

	d.cleanup(op, previousDir, releaseDir)

	metrics.DeploySuccessful.Inc()
	metrics.DeployDuration(op.Repository, started)
	op.Logger.Infof("Deployment finished successfully")

	return transcript, nil
}

// stage runs one orchestration step under its own span.
func stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := telemetry.Tracer().Start(ctx, name)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.SetStatus(ocodes.Error, err.Error())
	}
	return err
}

// hooks runs manifest commands against the target's base directory,
// not the release directory, so hooks can operate across releases.
func (d *Deployer) hooks(ctx context.Context, name, baseDir string, specs []command.Spec) (command.Transcript, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	var transcript command.Transcript
	err := stage(ctx, name, func(ctx context.Context) error {
		var err error
		transcript, err = d.Runner.Run(ctx, baseDir, specs)
		return err
	})

	return transcript, err
}

// cleanup deletes the release superseded by this deployment. It is
// best-effort: a failure leaks disk space at worst and is only logged.
func (d *Deployer) cleanup(op *Operation, previousDir, releaseDir string) {
	if len(previousDir) == 0 {
		// first deploy, nothing to reclaim
		return
	}

	// the previous target may have been recorded relative to the base
	if !filepath.IsAbs(previousDir) {
		previousDir = filepath.Join(op.BaseDir, previousDir)
	}
	previousDir = filepath.Clean(previousDir)

	if previousDir == filepath.Clean(releaseDir) {
		return
	}

	// refuse to delete anything that is not directly inside the base
	if filepath.Dir(previousDir) != filepath.Clean(op.BaseDir) {
		op.Logger.Warnf("Not deleting previous release %s: outside the target's base directory", previousDir)
		return
	}

	err := os.RemoveAll(previousDir)
	if err != nil {
		op.Logger.Warnf("Unable to delete previous release %s: %s", previousDir, err)
		return
	}

	metrics.ReleaseCleaned()
	op.Logger.Infof("Deleted previous release %s", previousDir)
}
