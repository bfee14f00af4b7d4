package main

import (
	"errors"

	"github.com/steveyegge/redmine-drafts/internal/drafts"
	"github.com/steveyegge/redmine-drafts/internal/redmine"
	"github.com/steveyegge/redmine-drafts/internal/ui"
)

// errAborted is returned when the user declines a confirmation. Nothing
// else is printed.
var errAborted = errors.New("aborted")

func errorCode(err error) string {
	var apiErr *redmine.APIError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == 404 {
			return "not_found"
		}
		return "redmine_error"
	case errors.Is(err, drafts.ErrUnknownPlaceholder):
		return "unknown_placeholder"
	case errors.Is(err, drafts.ErrOperationNotFound):
		return "draft_not_found"
	case errors.Is(err, ui.ErrNotInteractive):
		return "confirmation_required"
	}
	if _, ok := drafts.IsIdentityConflict(err); ok {
		return "identity_conflict"
	}
	return ""
}

func errorHint(err error) string {
	if _, ok := drafts.IsIdentityConflict(err); ok {
		return "Re-run with --yes to discard them, or switch back to the previous server and run 'rd drafts apply'"
	}
	switch {
	case errors.Is(err, drafts.ErrUnknownPlaceholder):
		return "Negative ids refer to drafted creates; see 'rd drafts list'"
	case errors.Is(err, ui.ErrNotInteractive):
		return "Pass --yes to confirm non-interactively"
	case redmine.IsNotFound(err):
		return "Check the id, or whether your API key can see it"
	}
	return ""
}
