package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/throw-if-null/bridge/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "submit":
		submit(os.Args[2:])
	case "status":
		status(os.Args[2:])
	case "logtail":
		logtail(os.Args[2:])
	case "abort":
		abort(os.Args[2:])
	case "version":
		fmt.Printf("bridgectl %s (%s)\n", version.Version, version.Commit)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	_, _ = fmt.Fprintln(os.Stderr, "usage:")
	_, _ = fmt.Fprintln(os.Stderr, "  bridgectl submit --goal <text> --workspace <path> [--tool NAME]... [--turns N] [--timeout SECONDS]")
	_, _ = fmt.Fprintln(os.Stderr, "  bridgectl status <session-id>")
	_, _ = fmt.Fprintln(os.Stderr, "  bridgectl logtail <session-id> [--stream stdout|stderr] [--n N]")
	_, _ = fmt.Fprintln(os.Stderr, "  bridgectl abort <session-id>")
	_, _ = fmt.Fprintln(os.Stderr, "  bridgectl version")
}

// tools is a repeatable flag.Value collecting one entry per --tool flag.
type tools []string

func (t *tools) String() string { return fmt.Sprint(*t) }
func (t *tools) Set(v string) error {
	*t = append(*t, v)
	return nil
}

func serverURL() string {
	if v := os.Getenv("BRIDGE_URL"); v != "" {
		return v
	}
	return "http://127.0.0.1:8787"
}

func bridgeToken() string {
	return os.Getenv("BRIDGE_TOKEN")
}

// submitArgs is the parsed, validated form of submit's flag set, kept
// separate from flag.FlagSet so parsing can be tested without a network
// round trip or an os.Exit on a missing required flag.
type submitArgs struct {
	goal      string
	workspace string
	tools     []string
	turns     int
	timeout   int
}

// parseSubmitArgs parses submit's flags and reports whether goal and
// workspace (both required) were supplied.
func parseSubmitArgs(args []string) (submitArgs, bool, error) {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	var parsed submitArgs
	var toolList tools
	fs.StringVar(&parsed.goal, "goal", "", "task goal")
	fs.StringVar(&parsed.workspace, "workspace", "", "workspace root")
	fs.Var(&toolList, "tool", "allowed tool name (repeatable)")
	fs.IntVar(&parsed.turns, "turns", 0, "max turns")
	fs.IntVar(&parsed.timeout, "timeout", 0, "timeout seconds")
	if err := fs.Parse(args); err != nil {
		return submitArgs{}, false, err
	}
	parsed.tools = []string(toolList)
	return parsed, parsed.goal != "" && parsed.workspace != "", nil
}

func submit(args []string) {
	parsed, ok, err := parseSubmitArgs(args)
	if err != nil {
		os.Exit(2)
	}
	if !ok {
		usage()
		os.Exit(2)
	}

	body := map[string]interface{}{
		"goal":           parsed.goal,
		"workspace_root": parsed.workspace,
	}
	if len(parsed.tools) > 0 {
		body["allowed_tools"] = parsed.tools
	}
	if parsed.turns > 0 {
		body["turns_max"] = parsed.turns
	}
	if parsed.timeout > 0 {
		body["timeout_seconds"] = parsed.timeout
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		fatal(err)
	}

	req, err := http.NewRequest(http.MethodPost, serverURL()+"/v1/tasks", &buf)
	if err != nil {
		fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	doAndPrint(req)
}

func status(args []string) {
	if len(args) != 1 {
		usage()
		os.Exit(2)
	}
	req, err := http.NewRequest(http.MethodGet, serverURL()+"/v1/sessions/"+args[0]+"/state", nil)
	if err != nil {
		fatal(err)
	}
	doAndPrint(req)
}

type logtailArgs struct {
	id     string
	stream string
	n      int
}

// parseLogtailArgs parses logtail's flags plus its one positional
// session-id argument.
func parseLogtailArgs(args []string) (logtailArgs, bool, error) {
	fs := flag.NewFlagSet("logtail", flag.ContinueOnError)
	var parsed logtailArgs
	fs.StringVar(&parsed.stream, "stream", "stdout", "stdout or stderr")
	fs.IntVar(&parsed.n, "n", 50, "number of lines")
	if err := fs.Parse(args); err != nil {
		return logtailArgs{}, false, err
	}
	if fs.NArg() != 1 {
		return logtailArgs{}, false, nil
	}
	parsed.id = fs.Arg(0)
	return parsed, true, nil
}

func logtail(args []string) {
	parsed, ok, err := parseLogtailArgs(args)
	if err != nil {
		os.Exit(2)
	}
	if !ok {
		usage()
		os.Exit(2)
	}

	url := fmt.Sprintf("%s/v1/sessions/%s/logtail?stream=%s&n=%d", serverURL(), parsed.id, parsed.stream, parsed.n)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		fatal(err)
	}
	doAndPrint(req)
}

func abort(args []string) {
	if len(args) != 1 {
		usage()
		os.Exit(2)
	}
	req, err := http.NewRequest(http.MethodPost, serverURL()+"/v1/sessions/"+args[0]+"/abort", nil)
	if err != nil {
		fatal(err)
	}
	doAndPrint(req)
}

func doAndPrint(req *http.Request) {
	if token := bridgeToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal(err)
	}
	if resp.StatusCode >= 400 {
		fatal(fmt.Errorf("request failed: %s: %s", resp.Status, string(body)))
	}

	fmt.Println(string(body))
}

func fatal(err error) {
	_, _ = fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
