package main

import (
	"net/http"
)

// Deps contains injectable dependencies for the subcommands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// HTTPClient carries every remote call.
	// Default: http.DefaultClient
	HTTPClient *http.Client

	// Prompter reads identifiers and secrets.
	// Default: a terminal prompter over the command's stdin and stderr
	Prompter Prompter
}
