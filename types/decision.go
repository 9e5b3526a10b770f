package types

import "fmt"

// Route is the path a classified event takes through the engine
type Route string

const (
	RouteRemediate     Route = "remediate"
	RouteNotify        Route = "notify"
	RouteLog           Route = "log"
	RouteSkipException Route = "skip_exception"
)

// Decision is the classifier's verdict for one compliance event
type Decision struct {
	Severity  Severity         `json:"severity"`
	Route     Route            `json:"route"`
	Reason    string           `json:"reason"`
	Exception *ExceptionRecord `json:"exception,omitempty"`
}

// Validate ensures the decision has required fields
func (d *Decision) Validate() error {
	if d.Severity == "" {
		return fmt.Errorf("decision severity cannot be empty")
	}
	if d.Route == "" {
		return fmt.Errorf("decision route cannot be empty")
	}
	if d.Route == RouteSkipException && d.Exception == nil {
		return fmt.Errorf("exception route requires an exception record")
	}
	return nil
}

// IsMutating reports whether the route may change the target account
func (d *Decision) IsMutating() bool {
	return d.Route == RouteRemediate
}

// TerminalAction returns the ledger action for routes that need no further work
func (d *Decision) TerminalAction() (Action, bool) {
	switch d.Route {
	case RouteLog:
		return ActionLogged, true
	case RouteSkipException:
		return ActionSkippedException, true
	}
	return "", false
}
