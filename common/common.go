// Package common holds process-wide settings shared by the commands.
package common

// PackageName is used as the metrics namespace and default log service tag.
const PackageName = "storage_distribution"

// Version is set at build time with -ldflags "-X .../common.Version=...".
var Version = "dev"
