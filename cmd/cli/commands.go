package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiBase    string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "sitepulse",
	Short: "Manage monitors and alert subscribers of a sitepulse API",
	Long: `sitepulse talks to a running sitepulse API.

Examples:
  # Watch a site
  sitepulse add "Shop" https://shop.example.com

  # Show all monitors and their status
  sitepulse list

  # Get alerts by email or Telegram
  sitepulse subscribe ops@example.com
  sitepulse subscribe tg:123456789

  # One-off probe without creating a monitor
  sitepulse check https://example.com`,
	SilenceUsage: true,
}

func init() {
	def := os.Getenv("API_BASE")
	if def == "" {
		def = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&apiBase, "api", def, "API base URL (env API_BASE)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON")

	rootCmd.AddCommand(addCmd, listCmd, rmCmd, subscribeCmd, unsubscribeCmd, checkCmd)
}

func client() *Client { return NewClient(apiBase, 20*time.Second) }

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var addCmd = &cobra.Command{
	Use:   "add NAME URL",
	Short: "Add a monitor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := client().AddMonitor(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(m)
		}
		fmt.Printf("Added %s (%s) as %s\n", m.Name, m.URL, m.ID)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ms, err := client().Monitors(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(ms)
		}
		if len(ms) == 0 {
			fmt.Println("No monitors.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tURL\tSTATUS\tDOWN SINCE\tLAST CHECKED")
		for _, m := range ms {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				m.ID, m.Name, m.URL, m.Status, fmtTime(m.DownSince), fmtTime(m.LastChecked))
		}
		return w.Flush()
	},
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

var rmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Remove a monitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().RemoveMonitor(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Removed", args[0])
		return nil
	},
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe ADDRESS",
	Short: "Subscribe an email, tg:<chat id> or Slack webhook to alerts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		created, err := client().Subscribe(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if created {
			fmt.Println("Subscribed", args[0])
		} else {
			fmt.Println("Already subscribed:", args[0])
		}
		return nil
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe ADDRESS",
	Short: "Stop sending alerts to an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().Unsubscribe(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Unsubscribed", args[0])
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check URL",
	Short: "Probe a URL once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client().Check(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		line := fmt.Sprintf("%s is %s", args[0], res.Status)
		if res.ResponseTimeMS != nil {
			line += fmt.Sprintf(" (%d ms)", *res.ResponseTimeMS)
		}
		if res.UsedFallback {
			line += " [fallback]"
		}
		if res.Error != "" {
			line += ": " + res.Error
		}
		fmt.Println(line)
		return nil
	},
}
