package main

import (
	"os"

	_ "github.com/viant/afsc/aws"
	_ "github.com/viant/afsc/aws/secretmanager"
	_ "github.com/viant/afsc/aws/ssm"
	_ "github.com/viant/afsc/gcp"
	_ "github.com/viant/afsc/gcp/secretmanager"
	_ "github.com/viant/afsc/gs"
	_ "github.com/viant/afsc/s3"

	magictunnel "github.com/MagicBeansAI/magictunnel"
	"github.com/MagicBeansAI/magictunnel/cmd/magictunneld"
)

// Version is populated by build ldflags in CI/release builds.
// Default value is "dev" for local builds.
var Version = magictunnel.Version

func main() {
	// Expose version to the CLI layer so `-v/--version` can print it.
	magictunneld.SetVersion(Version)
	magictunneld.RunWithCommands(os.Args[1:])
}
