// Package report renders the issue store for the terminal: a summary table
// of findings plus detailed per-finding blocks with remediation scripts.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Macmod/adcslint/issues"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

// Summary prints one row per finding: object, class, technique, principal.
func Summary(w io.Writer, records []issues.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No issues found.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Object", "Class", "Technique", "Principal"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("│")
	table.SetColumnSeparator("│")
	table.SetRowSeparator("─")
	table.SetHeaderLine(true)

	for _, r := range records {
		principal := r.Principal
		if principal == "" {
			principal = "-"
		}
		table.Append([]string{r.ObjectName, r.ObjectClass, r.Technique, principal})
	}

	table.Render()
}

// CountByTechnique prints totals per technique id, sorted by id.
func CountByTechnique(w io.Writer, findings []issues.Finding) {
	counts := make(map[string]int)
	for _, f := range findings {
		counts[f.Technique]++
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Technique", "Findings"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("│")
	table.SetColumnSeparator("│")
	table.SetRowSeparator("─")
	table.SetHeaderLine(true)

	for _, id := range ids {
		table.Append([]string{id, fmt.Sprintf("%d", counts[id])})
	}

	table.Render()
}

// Detailed prints one block per finding with the rendered issue text and
// the fix/revert scripts.
func Detailed(w io.Writer, findings []issues.Finding) {
	header := color.New(color.FgRed, color.Bold).SprintFunc()
	label := color.New(color.FgYellow).SprintFunc()
	script := color.New(color.FgCyan).SprintFunc()

	for _, f := range findings {
		fmt.Fprintf(w, "%s %s\n", header("["+f.Technique+"]"), f.ObjectName)
		fmt.Fprintf(w, "  %s %s\n", label("Object:"), f.ObjectDN)
		if f.Forest != "" {
			fmt.Fprintf(w, "  %s %s\n", label("Forest:"), f.Forest)
		}
		if f.PrincipalName != "" {
			fmt.Fprintf(w, "  %s %s (%s)\n", label("Principal:"), f.PrincipalName, f.PrincipalSID)
		}
		if f.Right != "" {
			fmt.Fprintf(w, "  %s %s\n", label("Right:"), f.Right)
		}
		if f.GroupRef != "" {
			fmt.Fprintf(w, "  %s %s\n", label("Via group:"), f.GroupRef)
		}
		if f.MemberCount > 0 {
			fmt.Fprintf(w, "  %s %d direct members\n", label("Group size:"), f.MemberCount)
		}
		if len(f.EnabledOn) > 0 {
			fmt.Fprintf(w, "  %s %s\n", label("Enabled on:"), strings.Join(f.EnabledOn, ", "))
		}
		fmt.Fprintf(w, "  %s %s\n", label("Issue:"), f.Issue)
		if f.Fix != "" {
			fmt.Fprintf(w, "  %s %s\n", label("Fix:"), script(f.Fix))
		}
		if f.Revert != "" {
			fmt.Fprintf(w, "  %s %s\n", label("Revert:"), script(f.Revert))
		}
		fmt.Fprintln(w)
	}
}
