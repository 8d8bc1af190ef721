package gateway

import (
	"fmt"

	"github.com/zulandar/switchyard/internal/config"
)

type approval struct {
	needsConfirmation bool
	reason            string
}

// checkApproval classifies command against the service's approval lists.
// Commands in Auto, or in neither list, run without confirmation.
func checkApproval(command string, cfg config.ApprovalConfig) approval {
	if contains(cfg.Auto, command) {
		return approval{}
	}
	if contains(cfg.Requires, command) {
		return approval{
			needsConfirmation: true,
			reason:            fmt.Sprintf("Command %q is sensitive and requires user confirmation", command),
		}
	}
	return approval{}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
