package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rzbill/pulse/pkg/account"
)

// readIDs parses ids from args, or from stdin (one per line) when args is
// empty or "-".
func readIDs(cmd *cobra.Command, args []string) ([]account.ID, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		var err error
		if args, err = readLines(cmd.InOrStdin()); err != nil {
			return nil, err
		}
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no account ids given")
	}
	return account.ParseAll(args)
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
