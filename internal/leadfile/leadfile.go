// Package leadfile parses lead spreadsheets into contact jobs and writes
// processed jobs back out for the acquisitions team.
package leadfile

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/homereach/contact-cli/internal/model"
)

// Required lead-file columns. The title, message_template, and priority
// columns are optional.
var requiredColumns = []string{"lead_id", "portal", "listing_url"}

// RowError records one rejected spreadsheet row. Row numbers are 1-based
// and include the header, matching what the operator sees in their
// spreadsheet program.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Result is a parsed lead file: the importable jobs plus every rejected
// row. Rejections never abort the import.
type Result struct {
	Jobs   []model.ContactJob `json:"jobs"`
	Errors []RowError         `json:"errors,omitempty"`
}

// ReadCSV parses a lead CSV. The first row must be a header containing at
// least lead_id, portal, and listing_url; column order is free.
func ReadCSV(r io.Reader, tenant string) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("leadfile: empty file, header row required")
	}
	if err != nil {
		return nil, eris.Wrap(err, "leadfile: read header")
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for rowNum := 2; ; rowNum++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "leadfile: read row %d", rowNum)
		}
		parseRow(res, cols, record, rowNum, tenant)
	}
	return res, nil
}

// ReadXLSX parses a lead spreadsheet's first sheet with the same column
// contract as ReadCSV.
func ReadXLSX(path, tenant string) (*Result, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "leadfile: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("leadfile: workbook has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.New("leadfile: empty sheet, header row required")
	}

	cols, err := mapColumns(rowToStrings(sheet.Rows[0]))
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for i, row := range sheet.Rows[1:] {
		parseRow(res, cols, rowToStrings(row), i+2, tenant)
	}
	return res, nil
}

// WriteXLSX renders processed jobs to a spreadsheet for the acquisitions
// team: one row per job with the extracted phone and outcome.
func WriteXLSX(path string, jobs []model.ContactJob) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Contacts")
	if err != nil {
		return eris.Wrap(err, "leadfile: add sheet")
	}

	header := sheet.AddRow()
	for _, name := range []string{
		"lead_id", "portal", "listing_url", "title", "state",
		"phone", "message_sent", "error", "attempts", "processed_at",
	} {
		header.AddCell().SetString(name)
	}

	for _, job := range jobs {
		row := sheet.AddRow()
		row.AddCell().SetString(job.LeadID)
		row.AddCell().SetString(string(job.Portal))
		row.AddCell().SetString(job.ListingURL)
		row.AddCell().SetString(job.Title)
		row.AddCell().SetString(string(job.State))
		if job.Phone != nil {
			row.AddCell().SetString(*job.Phone)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetBool(job.MessageSent)
		if job.Error != nil {
			row.AddCell().SetString(*job.Error)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetInt(job.Attempts)
		if job.ProcessedAt != nil {
			row.AddCell().SetString(job.ProcessedAt.UTC().Format(time.RFC3339))
		} else {
			row.AddCell().SetString("")
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "leadfile: save %s", path)
	}
	return nil
}

// mapColumns resolves header names to indexes, case-insensitively.
func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("leadfile: missing required column(s): %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func parseRow(res *Result, cols map[string]int, record []string, rowNum int, tenant string) {
	cell := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	if blankRow(record) {
		return
	}

	reject := func(format string, args ...any) {
		res.Errors = append(res.Errors, RowError{Row: rowNum, Message: fmt.Sprintf(format, args...)})
	}

	leadID := cell("lead_id")
	if leadID == "" {
		reject("missing lead_id")
		return
	}

	portal, ok := model.ParsePortal(cell("portal"))
	if !ok {
		reject("unknown portal %q", cell("portal"))
		return
	}

	listingURL := cell("listing_url")
	if !strings.HasPrefix(listingURL, "http://") && !strings.HasPrefix(listingURL, "https://") {
		reject("listing_url %q is not an http(s) URL", listingURL)
		return
	}

	priority := 0
	if p := cell("priority"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			reject("priority %q is not a number", p)
			return
		}
		priority = n
	}

	res.Jobs = append(res.Jobs, model.ContactJob{
		TenantID:        tenant,
		LeadID:          leadID,
		Portal:          portal,
		ListingURL:      listingURL,
		Title:           cell("title"),
		MessageTemplate: cell("message_template"),
		Priority:        priority,
	})
}

func blankRow(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
