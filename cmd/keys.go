package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/followup/internal/config"
	"github.com/nextlevelbuilder/followup/internal/sessions"
)

func keysCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Print the session key each transcript message resolves to",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			lines, err := loadTranscript(input)
			if err != nil {
				return err
			}
			scope, mainKey := cfg.SessionScope()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tAGENT\tCHANNEL\tPEER\tFROM")
			seen := make(map[string]bool)
			for _, l := range lines {
				msg := l.InboundMessage
				mc := msg.MsgContext()
				key := sessions.ResolveSessionKey(scope, mc, mainKey, "")
				seen[key] = true
				peer := mc.ChatType
				if peer == "" {
					peer = string(sessions.PeerDirect)
				}
				agent, _ := sessions.ParseSessionKey(key)
				if agent == "" {
					agent = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", key, agent, msg.Channel, peer, mc.From)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d message(s), %d session(s), scope=%s\n", len(lines), len(seen), scope)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "JSONL transcript (- for stdin)")
	return cmd
}
