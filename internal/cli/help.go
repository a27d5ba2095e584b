package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// subcommandsHeading starts the generated part of a parent's Long text.
const subcommandsHeading = "\n\nSubcommands:\n"

// walkCommands visits every command in the tree depth-first.
func walkCommands(cmd *cobra.Command, fn func(*cobra.Command)) {
	fn(cmd)
	for _, sub := range cmd.Commands() {
		walkCommands(sub, fn)
	}
}

// enrichParentLong lists a parent's visible subcommands at the end of its
// Long text. Running it again replaces the list instead of appending.
func enrichParentLong(cmd *cobra.Command) {
	if !cmd.HasSubCommands() {
		return
	}

	base, _, _ := strings.Cut(cmd.Long, subcommandsHeading)

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString(subcommandsHeading)
	for _, sub := range cmd.Commands() {
		if !sub.IsAvailableCommand() {
			continue
		}
		name := sub.Name()
		if len(sub.Aliases) > 0 {
			name += " (" + strings.Join(sub.Aliases, ", ") + ")"
		}
		sb.WriteString(fmt.Sprintf("  %-16s %s\n", name, sub.Short))
	}
	cmd.Long = sb.String()
}
