package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"klarnaparser/pkg/config"
	"klarnaparser/pkg/logger"
	"klarnaparser/pkg/report"
	"klarnaparser/pkg/sheets"
	"klarnaparser/pkg/ui"
)

var (
	sheetsWorksheet string
	sheetsFromRow   int
	sheetsStartCol  string
	sheetsEndCol    string
	sheetsYes       bool
)

var sheetsCmd = &cobra.Command{
	Use:   "sheets",
	Short: "Maintain the refunds worksheet",
	Long: `Maintain the worksheet the refund rows are appended to.

These commands work on the spreadsheet directly and do not touch the portal.`,
}

var sheetsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the data rows of the worksheet",
	Long: `Clear every populated row from --from-row down, up to column --end-col.
The header row is kept with the default --from-row of 2.`,
	Args: cobra.NoArgs,
	Run:  runSheetsClear,
}

var sheetsReplaceCmd = &cobra.Command{
	Use:   "replace [report.csv|directory]",
	Short: "Overwrite worksheet rows with the refund rows of a report",
	Long: `Parse a downloaded settlement report and write its refund rows over the
worksheet starting at --from-row. A directory argument uses its newest file;
without an argument the configured download directory is used.`,
	Args: cobra.MaximumNArgs(1),
	Example: `  # Rebuild the worksheet from last week's report
  klarnaparser sheets clear --yes
  klarnaparser sheets replace klarna_csv/settlements.csv`,
	Run: runSheetsReplace,
}

func init() {
	rootCmd.AddCommand(sheetsCmd)
	sheetsCmd.AddCommand(sheetsClearCmd)
	sheetsCmd.AddCommand(sheetsReplaceCmd)

	sheetsCmd.PersistentFlags().StringVar(&sheetsWorksheet, "worksheet", "", "worksheet to work on (default from config)")
	sheetsCmd.PersistentFlags().IntVar(&sheetsFromRow, "from-row", 2, "first row to clear or write")
	sheetsCmd.PersistentFlags().StringVar(&sheetsEndCol, "end-col", "Z", "last column to clear or write")
	sheetsReplaceCmd.Flags().StringVar(&sheetsStartCol, "start-col", "A", "first column to write")
	sheetsClearCmd.Flags().BoolVarP(&sheetsYes, "yes", "y", false, "do not ask for confirmation")
}

// sheetEditor is the part of the sheets client the maintenance commands use
type sheetEditor interface {
	ClearRange(ctx context.Context, worksheet string, startRow int, endCol string) error
	ReplaceRows(ctx context.Context, worksheet string, rows [][]string, startRow int, startCol, endCol string) error
}

func openSheets(cmd *cobra.Command) (*config.Config, *sheets.Client, logger.Logger) {
	cfg, err := loadConfig(false)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}
	if sheetsWorksheet != "" {
		cfg.Sheets.Worksheet = sheetsWorksheet
	}
	if cfg.Sheets.SpreadsheetID == "" || cfg.Sheets.Worksheet == "" {
		ui.PrintError("Spreadsheet ID and worksheet are required")
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		ui.PrintError("Failed to initialize logger", err.Error())
		os.Exit(1)
	}
	log := logger.GetLogger()

	client, err := sheets.NewService(cmd.Context(), cfg.Sheets, log)
	if err != nil {
		ui.PrintError("Failed to connect to Google Sheets", err.Error())
		os.Exit(1)
	}
	return cfg, client, log
}

func runSheetsClear(cmd *cobra.Command, _ []string) {
	cfg, client, _ := openSheets(cmd)

	if !sheetsYes {
		fmt.Printf("Clear rows %d and below of %q? (y/N): ", sheetsFromRow, cfg.Sheets.Worksheet)
		input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
	}

	if err := client.ClearRange(cmd.Context(), cfg.Sheets.Worksheet, sheetsFromRow, sheetsEndCol); err != nil {
		ui.PrintError("Failed to clear worksheet", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess("Cleared " + cfg.Sheets.Worksheet)
}

func runSheetsReplace(cmd *cobra.Command, args []string) {
	cfg, client, log := openSheets(cmd)

	source := cfg.Download.Directory
	if len(args) == 1 {
		source = args[0]
	}

	parser := report.NewParser(cfg.Report, log)
	n, err := replaceFromReport(cmd.Context(), client, parser, source, cfg.Sheets.Worksheet)
	if err != nil {
		ui.PrintError("Failed to replace worksheet rows", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess(fmt.Sprintf("Wrote %d refund rows to %s", n, cfg.Sheets.Worksheet))
}

// replaceFromReport parses source (a report file or a directory holding
// reports) and writes its rows over the worksheet.
func replaceFromReport(ctx context.Context, editor sheetEditor, parser *report.Parser, source, worksheet string) (int, error) {
	var (
		rows [][]string
		err  error
	)
	if info, statErr := os.Stat(source); statErr == nil && info.IsDir() {
		rows, err = parser.ParseLatest(source)
	} else {
		rows, err = parser.Parse(source)
	}
	if err != nil {
		return 0, err
	}

	if err := editor.ReplaceRows(ctx, worksheet, rows, sheetsFromRow, sheetsStartCol, sheetsEndCol); err != nil {
		return 0, err
	}
	return len(rows), nil
}
