package config

// Version is the docmigrate binary version.
// Set at build time via: -ldflags "-X github.com/persistorai/docmigrate/internal/config.Version=<tag>"
// Defaults to "dev" when built without ldflags.
var Version = "dev"
