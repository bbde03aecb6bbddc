package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// logEntry is a factory runtime JSON log line
type logEntry map[string]any

func (e logEntry) str(key string) string {
	switch v := e[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// NewLogsCommand creates the logs command.
func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "logs [file]",
		Short: "Pretty print machine activity from runtime JSON logs",
		Long: `Read the JSON logs of the factory binary from a file or stdin and print
one line per machine event: orders added, assignments, job starts,
supersessions and completions. Errors are always shown.

  factory | factoryctl logs`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return prettifyLogs(in, cmd.OutOrStdout(), all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "also print lines that are not machine events")
	return cmd
}

func prettifyLogs(in io.Reader, out io.Writer, all bool) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// docker service logs prefix: "service.instance | {json}"
		if _, payload, ok := strings.Cut(line, "| {"); ok {
			line = "{" + payload
		}

		var entry logEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if text, ok := prettify(entry, all); ok {
			fmt.Fprintln(out, text)
		}
	}
	return scanner.Err()
}

func prettify(e logEntry, all bool) (string, bool) {
	machine := titleStyle.Render(fmt.Sprintf("[%s]", orDash(e.str("machine"))))
	order := e.str("order_id")

	switch e.str("msg") {
	case "Order added to schedule":
		return fmt.Sprintf("%s %s %s: %s x %s", titleStyle.Render("[schedule]"), mutedStyle.Render("+"), order, e.str("quantity"), e.str("product")), true
	case "Assignment committed":
		return fmt.Sprintf("%s %s %s (%s x %s, %ss)", machine, warnStyle.Render("Assigned:"), order, e.str("quantity"), e.str("product"), e.str("duration")), true
	case "Assignment rejected":
		return fmt.Sprintf("%s %s %s %s", machine, errStyle.Render("Rejected:"), order, e.str("message")), true
	case "Job started":
		return fmt.Sprintf("%s %s %s", machine, titleStyle.Render("Now running:"), order), true
	case "Superseded running job":
		return fmt.Sprintf("%s %s %s", machine, warnStyle.Render("Superseded:"), order), true
	case "Job completed":
		// the log callback repeats the event with its prompt
		if _, dup := e["prompt"]; dup {
			return "", false
		}
		return fmt.Sprintf("%s %s %s", machine, okStyle.Render("Finished:"), order), true
	}

	if strings.EqualFold(e.str("level"), "error") {
		return fmt.Sprintf("%s %s %s", machine, errStyle.Render("ERROR:"), e.str("msg")), true
	}
	if all {
		return mutedStyle.Render(fmt.Sprintf("%s %s", strings.ToUpper(e.str("level")), e.str("msg"))), true
	}
	return "", false
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
