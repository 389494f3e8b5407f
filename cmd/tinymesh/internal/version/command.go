package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinymesh-ai/tinymesh/cmd/tinymesh/internal"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print tinymesh version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("%s tinymesh %s\n", internal.Logo, internal.FormatVersion())
			build, goVer := internal.FormatBuildInfo()
			if build != "" {
				fmt.Printf("  built:  %s\n", build)
			}
			fmt.Printf("  go:     %s\n", goVer)
		},
	}
}
