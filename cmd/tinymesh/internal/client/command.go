package client

import (
	"github.com/spf13/cobra"
)

func NewClientCommand() *cobra.Command {
	var name string
	var url string
	var token string
	var capabilities []string

	cmd := &cobra.Command{
		Use:     "client",
		Aliases: []string{"c"},
		Short:   "Connect to a tinymesh gateway as an interactive participant",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return clientCmd(name, url, token, capabilities)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Participant name (required)")
	cmd.Flags().StringVarP(&url, "url", "u", "", "Gateway websocket URL (default from config)")
	cmd.Flags().StringVarP(&token, "token", "t", "", "Gateway auth token (default from config)")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "Advertised capability (repeatable)")
	cmd.MarkFlagRequired("name")

	return cmd
}
