package version

// Version is overridden at build time via -ldflags "-X coursegen/pkg/version.Version=...".
var Version = "v0.1.0"
