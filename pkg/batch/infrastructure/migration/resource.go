package migration

import "embed"

//go:embed resource
var resources embed.FS
