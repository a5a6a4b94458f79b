// Package render draws snapshots for the terminal.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gravito-framework/connectty-go/pkg/probes"
	"github.com/gravito-framework/connectty-go/pkg/probes/speed"
	"github.com/gravito-framework/connectty-go/pkg/publish"
	"github.com/gravito-framework/connectty-go/pkg/types"
)

// Format represents the output format type.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatTSV   Format = "tsv"
)

// Initializing is shown for values not yet collected
const Initializing = "Initializing..."

// DefaultTrendWidth is the number of points drawn per sparkline
const DefaultTrendWidth = 30

// DefaultListLimit caps the entries shown in the connection panel
const DefaultListLimit = 10

type row struct {
	label string
	key   string
	probe string
	unit  string
}

var descriptiveRows = []row{
	{"Local IP", probes.KeyLocalIP, probes.KeyLocalAddress, ""},
	{"Subnet Mask", probes.KeySubnetMask, probes.KeyLocalAddress, ""},
	{"Global IP", probes.KeyGlobalIP, probes.KeyGlobalAddress, ""},
	{"DNS Servers", probes.KeyDNSServers, probes.KeyDNSServers, ""},
	{"Interfaces", probes.KeyInterfaces, probes.KeyInterfaces, ""},
	{"Listening Sockets", probes.KeyListeningSockets, probes.KeyListeningSockets, ""},
}

var scalarRows = []row{
	{"Download", speed.KeyDownloadMbps, speed.Key, "Mbps"},
	{"Upload", speed.KeyUploadMbps, speed.Key, "Mbps"},
	{"Ping", speed.KeyPingMs, speed.Key, "ms"},
	{"Active Connections", probes.KeyActiveConnections, probes.KeyActiveConnections, ""},
}

var listRows = []row{
	{"Active Ports and Services", probes.KeyActivePorts, probes.KeyActivePorts, ""},
	{"Connections", probes.KeyConnections, probes.KeyConnections, ""},
}

// Seeds returns the placeholder values shown before the first cycle
func Seeds() map[string]types.Text {
	seeds := make(map[string]types.Text)
	for _, r := range append(descriptiveRows, listRows...) {
		seeds[r.key] = types.Text{Initializing}
	}
	return seeds
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true) // Green
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)  // Red
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))             // Gray
)

// Formatter renders snapshots of one node
type Formatter struct {
	format     Format
	writer     io.Writer
	node       string
	trendWidth int
	listLimit  int
}

// NewFormatter creates a new formatter.
func NewFormatter(format Format, writer io.Writer, node string) *Formatter {
	return &Formatter{
		format:     format,
		writer:     writer,
		node:       node,
		trendWidth: DefaultTrendWidth,
		listLimit:  DefaultListLimit,
	}
}

// SetTrendWidth sets how many points each sparkline shows
func (f *Formatter) SetTrendWidth(n int) {
	if n > 0 {
		f.trendWidth = n
	}
}

// SetListLimit caps the connection panel; 0 shows everything
func (f *Formatter) SetListLimit(n int) {
	if n >= 0 {
		f.listLimit = n
	}
}

// Render outputs the snapshot in the configured format.
func (f *Formatter) Render(snap *types.Snapshot) error {
	switch f.format {
	case FormatJSON:
		return f.renderJSON(snap)
	case FormatTSV:
		return f.renderTSV(snap)
	default:
		return f.renderTable(snap)
	}
}

// RenderReport outputs a report read back from Redis
func (f *Formatter) RenderReport(r *publish.Report) error {
	if f.format == FormatJSON {
		enc := json.NewEncoder(f.writer)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	return f.Render(FromReport(r))
}

// FromReport rebuilds a snapshot whose series hold only the latest point
func FromReport(r *publish.Report) *types.Snapshot {
	snap := &types.Snapshot{
		Cycle:    r.Cycle,
		Latest:   r.Latest,
		Series:   make(map[string][]types.Point, len(r.Values)),
		Failures: r.Failures,
	}
	for key, p := range r.Values {
		snap.Series[key] = []types.Point{p}
	}
	return snap
}

func (f *Formatter) renderJSON(snap *types.Snapshot) error {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// renderTSV outputs one line per metric: key, value, status
func (f *Formatter) renderTSV(snap *types.Snapshot) error {
	fmt.Fprintln(f.writer, "KEY\tVALUE\tSTATUS")

	for _, r := range append(descriptiveRows, listRows...) {
		values := snap.Latest[r.key]
		fmt.Fprintf(f.writer, "%s\t%s\t%s\n", r.key, strings.Join(values, "; "), status(snap, r.probe))
	}
	for _, r := range append(scalarRows, trafficRows()...) {
		value := types.Unavailable
		if p, ok := snap.LastPoint(r.key); ok {
			value = fmt.Sprintf("%g", p.Value)
		}
		fmt.Fprintf(f.writer, "%s\t%s\t%s\n", r.key, value, status(snap, r.probe))
	}
	return nil
}

func trafficRows() []row {
	return []row{
		{"Bytes Sent", probes.KeyBytesSent, probes.KeyTraffic, ""},
		{"Bytes Received", probes.KeyBytesRecv, probes.KeyTraffic, ""},
		{"Packets Sent", probes.KeyPacketsSent, probes.KeyTraffic, ""},
		{"Packets Received", probes.KeyPacketsRecv, probes.KeyTraffic, ""},
	}
}

func status(snap *types.Snapshot, probe string) string {
	if reason, failed := snap.Failures[probe]; failed {
		return string(reason)
	}
	return "ok"
}

// renderTable outputs the dashboard
func (f *Formatter) renderTable(snap *types.Snapshot) error {
	title := "Connectty"
	if f.node != "" {
		title += " · " + f.node
	}
	fmt.Fprintln(f.writer, titleStyle.Render(title))
	fmt.Fprintln(f.writer, dimStyle.Render("Timestamp: "+timestamp(snap)))
	fmt.Fprintln(f.writer, strings.Repeat("═", 60))
	fmt.Fprintln(f.writer)

	// Addresses and interfaces
	rows := make([][]string, 0, len(descriptiveRows))
	for _, r := range descriptiveRows {
		rows = append(rows, []string{r.label, f.text(snap, r), f.statusCell(snap, r.probe)})
	}
	fmt.Fprintln(f.writer, newTable([]string{"METRIC", "VALUE", "STATUS"}, rows))

	// Scalars with trends
	rows = rows[:0]
	for _, r := range scalarRows {
		rows = append(rows, []string{
			r.label,
			f.scalar(snap, r),
			Sparkline(snap.Series[r.key], f.trendWidth),
			f.statusCell(snap, r.probe),
		})
	}
	fmt.Fprintln(f.writer, newTable([]string{"METRIC", "VALUE", "TREND", "STATUS"}, rows))

	fmt.Fprintln(f.writer, Traffic(snap))
	fmt.Fprintln(f.writer)

	// Connection panel
	for _, r := range listRows {
		fmt.Fprintln(f.writer, sectionStyle.Render(r.label)+" "+f.statusCell(snap, r.probe))
		for _, line := range f.list(snap, r) {
			fmt.Fprintln(f.writer, "  "+line)
		}
		fmt.Fprintln(f.writer)
	}

	f.renderSummary(snap)
	return nil
}

func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
}

func (f *Formatter) renderSummary(snap *types.Snapshot) {
	if snap.Cycle.Number == 0 {
		fmt.Fprintln(f.writer, dimStyle.Render("Waiting for the first cycle"))
		return
	}
	if len(snap.Failures) == 0 {
		fmt.Fprintln(f.writer, okStyle.Render(fmt.Sprintf("Cycle %d: all probes ok", snap.Cycle.Number)))
		return
	}
	fmt.Fprintf(f.writer, "Cycle %d: %s\n", snap.Cycle.Number,
		failStyle.Render(fmt.Sprintf("%d probes unavailable", len(snap.Failures))))
}

func timestamp(snap *types.Snapshot) string {
	if snap.Cycle.Number == 0 {
		return Initializing
	}
	return snap.Cycle.Timestamp.Local().Format(time.DateTime)
}

func (f *Formatter) statusCell(snap *types.Snapshot, probe string) string {
	if reason, failed := snap.Failures[probe]; failed {
		return failStyle.Render(strings.ToUpper(string(reason)))
	}
	if snap.Cycle.Number == 0 {
		return dimStyle.Render("PENDING")
	}
	return okStyle.Render("OK")
}

func (f *Formatter) text(snap *types.Snapshot, r row) string {
	values, ok := snap.Latest[r.key]
	if !ok {
		if snap.Cycle.Number == 0 {
			return Initializing
		}
		return types.Unavailable
	}
	// A probe that never succeeded still holds its placeholder
	if _, failed := snap.Failures[r.probe]; failed && len(values) == 1 && values[0] == Initializing {
		return types.Unavailable
	}
	return values.String()
}

func (f *Formatter) scalar(snap *types.Snapshot, r row) string {
	p, ok := snap.LastPoint(r.key)
	if !ok {
		if snap.Cycle.Number == 0 {
			return Initializing
		}
		return types.Unavailable
	}
	if r.unit == "" {
		return fmt.Sprintf("%g", p.Value)
	}
	return fmt.Sprintf("%.2f %s", p.Value, r.unit)
}

func (f *Formatter) list(snap *types.Snapshot, r row) []string {
	values, ok := snap.Latest[r.key]
	if text := f.text(snap, r); !ok || len(values) == 0 || text == types.Unavailable {
		return []string{text}
	}
	if f.listLimit > 0 && len(values) > f.listLimit {
		more := len(values) - f.listLimit
		out := append([]string{}, values[:f.listLimit]...)
		return append(out, dimStyle.Render(fmt.Sprintf("... and %d more", more)))
	}
	return values
}

// Traffic summarizes the byte and packet counters, bytes in MB
func Traffic(snap *types.Snapshot) string {
	sent, ok1 := snap.LastPoint(probes.KeyBytesSent)
	recv, ok2 := snap.LastPoint(probes.KeyBytesRecv)
	psent, ok3 := snap.LastPoint(probes.KeyPacketsSent)
	precv, ok4 := snap.LastPoint(probes.KeyPacketsRecv)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		if snap.Cycle.Number == 0 {
			return "Traffic: " + Initializing
		}
		return "Traffic: " + types.Unavailable
	}
	return fmt.Sprintf("Traffic: Sent: %.2f MB, Received: %.2f MB, Packets Sent: %.0f, Packets Received: %.0f",
		sent.Value/1_000_000, recv.Value/1_000_000, psent.Value, precv.Value)
}
