package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pdfjson/internal/ir"
)

// VersionInfo is the output of the version command.
type VersionInfo struct {
	Version        string `json:"version"`
	JournalVersion string `json:"journal_version"`
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("pdfjson %s (journal format %s)", v.Version, v.JournalVersion)
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print the pdfjson version",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.formatter(cmd).Success(VersionInfo{
				Version:        ir.Version,
				JournalVersion: ir.JournalVersion,
			})
		},
	}
}
