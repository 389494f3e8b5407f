// TinyMesh - Real-time multi-agent mesh gateway
// License: MIT
//
// Copyright (c) 2026 TinyMesh contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinymesh-ai/tinymesh/cmd/tinymesh/internal"
	"github.com/tinymesh-ai/tinymesh/cmd/tinymesh/internal/client"
	"github.com/tinymesh-ai/tinymesh/cmd/tinymesh/internal/serve"
	"github.com/tinymesh-ai/tinymesh/cmd/tinymesh/internal/status"
	"github.com/tinymesh-ai/tinymesh/cmd/tinymesh/internal/version"
)

func NewTinymeshCommand() *cobra.Command {
	short := fmt.Sprintf("%s tinymesh - Multi-Agent Mesh Gateway v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "tinymesh",
		Short:   short,
		Example: "tinymesh serve",
	}

	cmd.AddCommand(
		serve.NewServeCommand(),
		client.NewClientCommand(),
		status.NewStatusCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewTinymeshCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
