package registry

import (
	"github.com/kindred-org/kindred/pkg/actions/createtask"
	"github.com/kindred-org/kindred/pkg/actions/externalworkflow"
	logaction "github.com/kindred-org/kindred/pkg/actions/log"
	"github.com/kindred-org/kindred/pkg/actions/sendemail"
	"github.com/kindred-org/kindred/pkg/actions/updatefield"
	"github.com/kindred-org/kindred/pkg/actions/wait"
	"github.com/kindred-org/kindred/pkg/protocol"
)

// RegisterDefaultActions registers every built-in action, bound to the given collaborators.
func (r *Registry) RegisterDefaultActions(c protocol.Collaborators) error {
	factories := []protocol.ActionFactory{
		sendemail.NewActionFactory(c.Communications),
		createtask.NewActionFactory(c.Tasks),
		updatefield.NewActionFactory(c.Records),
		externalworkflow.NewActionFactory(c.Workflows),
		wait.NewActionFactory(),
		logaction.NewActionFactory(),
	}

	for _, factory := range factories {
		if err := r.RegisterAction(factory); err != nil {
			return err
		}
	}

	return nil
}
