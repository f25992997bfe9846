package cli

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/NetClaw/internal/config"
	"github.com/KafClaw/NetClaw/internal/policy"
)

var classifyList bool

var classifyCmd = &cobra.Command{
	Use:   "classify [tool] [key=value...]",
	Short: "Show the risk tier a tool call would get",
	Example: `  netclaw classify device_command command=restart mac=aa:bb:cc:dd:ee:ff
  netclaw classify --list`,
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyList, "list", false, "List every known tool and its tier")
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	classifier, err := buildClassifier(cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if classifyList {
		rules := classifier.Rules()
		names := make([]string, 0, len(rules))
		for name := range rules {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r := rules[name]
			if r.OpField == "" {
				fmt.Fprintf(out, "%-28s %s\n", name, tierColor(r.Tier))
				continue
			}
			fmt.Fprintf(out, "%-28s by %s\n", name, r.OpField)
			ops := make([]string, 0, len(r.Ops))
			for op := range r.Ops {
				ops = append(ops, op)
			}
			sort.Strings(ops)
			for _, op := range ops {
				fmt.Fprintf(out, "  %s=%-22s %s\n", r.OpField, op, tierColor(r.Ops[op]))
			}
		}
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("tool name required (or --list)")
	}
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}
	tier, err := classifier.Classify(args[0], params)
	fmt.Fprintf(out, "%s: %s\n", args[0], tierColor(tier))
	if errors.Is(err, policy.ErrClassificationGap) {
		fmt.Fprintln(out, color.YellowString("classification gap: %v", err))
	}
	switch {
	case tier.RequiresMFA():
		fmt.Fprintln(out, "requires confirmation and MFA push")
	case tier.RequiresConfirmation():
		fmt.Fprintln(out, "requires confirmation")
	default:
		fmt.Fprintln(out, "runs without confirmation")
	}
	return nil
}

// parseParams turns key=value pairs into tool arguments. true/false become
// booleans and integers become numbers.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid argument %q: want key=value", p)
		}
		key = strings.TrimSpace(key)
		if b, err := strconv.ParseBool(value); err == nil {
			params[key] = b
		} else if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			params[key] = float64(n)
		} else {
			params[key] = value
		}
	}
	return params, nil
}

func tierColor(t policy.Tier) string {
	switch t {
	case policy.Safe:
		return color.GreenString(t.String())
	case policy.Moderate:
		return color.YellowString(t.String())
	case policy.Dangerous:
		return color.RedString(t.String())
	}
	return color.New(color.FgRed, color.Bold).Sprint(t.String())
}
