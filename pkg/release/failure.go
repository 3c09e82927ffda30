package release

import (
	"fmt"

	"github.com/DASPRiD/webhook-deploy-agent/pkg/command"
)

// Stage identifies the orchestration step a deployment failed in.
type Stage string

const (
	StageExtract     Stage = "extract"
	StageManifest    Stage = "manifest"
	StageLinkShared  Stage = "link-shared"
	StagePrePublish  Stage = "pre-publish"
	StagePromote     Stage = "promote"
	StagePostPublish Stage = "post-publish"
)

// Failure is a deployment error annotated with the stage it occurred in
// and the hook transcript accumulated up to that point.
type Failure struct {
	Stage      Stage
	Err        error
	Transcript command.Transcript
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}
