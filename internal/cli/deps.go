package cli

import (
	"os"
	"os/exec"

	"imagetool/internal/config"
	"imagetool/internal/journal"
	"imagetool/internal/secrets"
)

// Function variables for dependency injection in tests.
// Default values are the real implementations; tests may temporarily swap them.
var (
	osMkdirAll          = os.MkdirAll
	osCreateTemp        = os.CreateTemp
	lookPath            = exec.LookPath
	configWriteDefault  = config.WriteDefault
	configLoad          = config.Load
	configSave          = config.Save
	setValueAtPathFn    = setValueAtPath
	openSecretStore     = secrets.OpenDefault
	configLoadOrDefault = config.LoadOrDefault
	journalOpen         = journal.Open
)
