package routesynccmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the routesync version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(moduleVersion())
			return nil
		},
	}
}

// moduleVersion extracts the build version the same way caddy.Version()
// does: from the module's own entry in the embedded build info, falling
// back to "unknown" for an unreproducible build (e.g. `go run`).
func moduleVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	for _, setting := range bi.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return "unknown"
}
