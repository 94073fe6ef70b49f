package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/SplitView/internal/capture"
	"github.com/spf13/cobra"
)

var windowsCmd = &cobra.Command{
	Use:   "windows [FILTER]",
	Short: "List X11 windows usable as a screen source",
	Long: `List the client windows on the X server with their position and size.

Any part of a title or class shown here can be used as source.window to
capture just that window with the screen source.`,
	Example: `  # List windows in table format (default)
  splitview windows

  # Only windows whose title or class contains "zoom"
  splitview windows zoom

  # Capture the first match
  splitview run --source screen --window zoom`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWindows,
}

var windowsFormat string

func init() {
	rootCmd.AddCommand(windowsCmd)

	windowsCmd.Flags().StringVarP(&windowsFormat, "format", "f", "table", "output format (table or json)")
}

func runWindows(cmd *cobra.Command, args []string) error {
	windows, err := capture.ScreenWindows()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		filtered := make([]capture.Window, 0, len(windows))
		for _, w := range windows {
			if _, ok := capture.MatchWindow([]capture.Window{w}, args[0]); ok {
				filtered = append(filtered, w)
			}
		}
		windows = filtered
	}

	switch windowsFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(windows)
	case "table":
		return printWindowsTable(windows)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", windowsFormat)
	}
}

func printWindowsTable(windows []capture.Window) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tTITLE\tCLASS\tPID\tGEOMETRY")
	fmt.Fprintln(w, "--\t-----\t-----\t---\t--------")

	for _, win := range windows {
		fmt.Fprintf(w, "0x%x\t%s\t%s\t%d\t%dx%d+%d+%d\n",
			win.ID, win.Title, win.Class, win.PID, win.Width, win.Height, win.X, win.Y)
	}

	return nil
}
