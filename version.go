package signalpost

import "github.com/signalpost/signalpost-go/core"

// Version is the current SDK version
const Version = core.Version
