package report

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/veriaddress/veriaddress-server/internal/evidence"
)

const (
	pageWidth     = 190.0 // A4 content width with 10mm margins.
	columnWidth   = pageWidth / 2
	labelWidth    = 36.0
	rowHeight     = 7.0
	bandHeight    = 7.0
	photoBoxW     = columnWidth - 4
	photoBoxH     = 60.0
	pageBreakAt   = 265.0
	footerReserve = 14.0
)

// RenderPDF writes the report as a paginated PDF document.
func RenderPDF(w io.Writer, view View) error {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle(view.Filename, false)
	doc.SetAutoPageBreak(false, footerReserve)

	doc.SetFooterFunc(func() {
		doc.SetY(-12)
		doc.SetFont("Helvetica", "", 6)
		doc.SetTextColor(148, 163, 184)
		doc.CellFormat(pageWidth/2, 4, "VeriAddress - Confidential Address Verification Report", "T", 0, "L", false, 0, "")
		doc.CellFormat(pageWidth/2, 4,
			fmt.Sprintf("Generated: %s | Ref: %s", time.Now().Format("2006-01-02 15:04"), view.RefID),
			"T", 0, "R", false, 0, "")
	})

	doc.AddPage()

	renderHeader(doc, view)
	renderInfoGrid(doc, view)
	renderBand(doc, view.MapBand)
	renderComparison(doc, view)
	renderGPSSummary(doc, view)
	renderBand(doc, view.EvidenceBand)
	renderEvidence(doc, view)

	return doc.Output(w)
}

func renderHeader(doc *fpdf.Fpdf, view View) {
	doc.SetFillColor(30, 58, 138)
	doc.SetTextColor(255, 255, 255)
	doc.SetFont("Helvetica", "B", 13)
	doc.CellFormat(pageWidth-50, 12, view.Title, "", 0, "L", true, 0, "")
	doc.SetFont("Courier", "", 7)
	doc.CellFormat(50, 12, "ID: "+view.ID, "", 1, "R", true, 0, "")
}

func renderInfoGrid(doc *fpdf.Fpdf, view View) {
	rows := len(view.LeftRows)
	if len(view.RightRows) > rows {
		rows = len(view.RightRows)
	}

	for i := 0; i < rows; i++ {
		renderInfoCell(doc, view.LeftRows, i)
		renderInfoCell(doc, view.RightRows, i)
		doc.Ln(rowHeight)
	}
}

func renderInfoCell(doc *fpdf.Fpdf, rows []Row, index int) {
	if index >= len(rows) {
		doc.CellFormat(columnWidth, rowHeight, "", "1", 0, "L", false, 0, "")

		return
	}

	row := rows[index]

	doc.SetFillColor(30, 58, 138)
	doc.SetTextColor(255, 255, 255)
	doc.SetFont("Helvetica", "B", 7)
	doc.CellFormat(labelWidth, rowHeight, row.Label, "1", 0, "L", true, 0, "")

	doc.SetFont("Helvetica", "", 8)

	switch {
	case row.Status && row.Value == "pass":
		doc.SetTextColor(22, 163, 74)
		doc.SetFont("Helvetica", "B", 8)
	case row.Status && row.Value == "fail":
		doc.SetTextColor(220, 38, 38)
		doc.SetFont("Helvetica", "B", 8)
	default:
		doc.SetTextColor(51, 65, 85)
	}

	doc.CellFormat(columnWidth-labelWidth, rowHeight, row.Value, "1", 0, "L", false, 0, "")
}

func renderBand(doc *fpdf.Fpdf, text string) {
	doc.SetFillColor(55, 48, 163)
	doc.SetTextColor(255, 255, 255)
	doc.SetFont("Helvetica", "B", 9)
	doc.CellFormat(pageWidth, bandHeight, text, "", 1, "L", true, 0, "")
}

func renderComparison(doc *fpdf.Fpdf, view View) {
	widths := []float64{60, 30, 25, 45, 30}
	headers := []string{"Description", "Source", "Distance", "Location Resolution Logic", "Legend"}

	doc.SetFillColor(248, 250, 252)
	doc.SetTextColor(71, 85, 105)
	doc.SetFont("Helvetica", "B", 7)

	for i, header := range headers {
		doc.CellFormat(widths[i], 6, header, "1", 0, "L", true, 0, "")
	}

	doc.Ln(6)
	doc.SetFont("Helvetica", "", 7)
	doc.SetTextColor(51, 65, 85)

	for _, row := range view.Comparison {
		doc.CellFormat(widths[0], 6, row.Description, "1", 0, "L", false, 0, "")
		doc.CellFormat(widths[1], 6, row.Source, "1", 0, "L", false, 0, "")
		doc.CellFormat(widths[2], 6, row.Distance, "1", 0, "L", false, 0, "")
		doc.CellFormat(widths[3], 6, row.ResolutionLogic, "1", 0, "L", false, 0, "")

		x, y := doc.GetXY()
		doc.CellFormat(widths[4], 6, "", "1", 1, "C", false, 0, "")

		if row.Legend == "red" {
			doc.SetFillColor(239, 68, 68)
		} else {
			doc.SetFillColor(34, 197, 94)
		}

		doc.Circle(x+widths[4]/2, y+3, 1.6, "F")
	}
}

func renderGPSSummary(doc *fpdf.Fpdf, view View) {
	doc.SetFillColor(241, 245, 249)

	columns := []struct {
		label string
		value string
	}{
		{"Claimed Location (Geocoded)", view.ClaimedPoint},
		{"GPS Captured Point", view.CapturedPoint},
		{"Distance", fmt.Sprintf("%.2f km", view.DistanceKm)},
	}

	doc.SetFont("Helvetica", "B", 7)
	doc.SetTextColor(100, 116, 139)

	for _, column := range columns {
		doc.CellFormat(pageWidth/3, 5, column.label, "", 0, "L", true, 0, "")
	}

	doc.Ln(5)
	doc.SetFont("Courier", "", 8)
	doc.SetTextColor(30, 41, 59)

	for _, column := range columns {
		doc.CellFormat(pageWidth/3, 5, column.value, "", 0, "L", true, 0, "")
	}

	doc.Ln(5)
}

func renderEvidence(doc *fpdf.Fpdf, view View) {
	cellHeight := 6 + photoBoxH + 5

	for i := 0; i < len(view.Evidence); i += 2 {
		if doc.GetY()+cellHeight > pageBreakAt {
			doc.AddPage()
		}

		x, y := doc.GetXY()

		renderEvidenceCell(doc, view.Evidence[i], x, y, i)

		if i+1 < len(view.Evidence) {
			renderEvidenceCell(doc, view.Evidence[i+1], x+columnWidth, y, i+1)
		}

		doc.SetXY(x, y+cellHeight)
	}
}

func renderEvidenceCell(doc *fpdf.Fpdf, block EvidenceBlock, x, y float64, index int) {
	doc.SetXY(x, y)
	doc.SetFillColor(248, 250, 252)
	doc.SetTextColor(71, 85, 105)
	doc.SetFont("Helvetica", "B", 7)
	doc.CellFormat(columnWidth, 6, block.Label, "1", 0, "L", true, 0, "")

	boxY := y + 6

	doc.Rect(x, boxY, columnWidth, photoBoxH, "D")

	if block.Image != "" {
		embedImage(doc, block, x+2, boxY+2, index)
	} else {
		doc.SetXY(x, boxY+photoBoxH/2-2)
		doc.SetTextColor(148, 163, 184)
		doc.SetFont("Helvetica", "", 8)
		doc.CellFormat(columnWidth, 4, "No image provided", "", 0, "C", false, 0, "")
	}

	doc.SetXY(x, boxY+photoBoxH)
	doc.SetFillColor(248, 250, 252)
	doc.SetTextColor(51, 65, 85)
	doc.SetFont("Courier", "", 6)
	doc.CellFormat(columnWidth, 5,
		fmt.Sprintf("Time: %s  GPS: %s", block.Timestamp, block.Location),
		"1", 0, "L", true, 0, "")
}

// embedImage places a compressed evidence image inside its box, scaled to
// fit while keeping the aspect ratio. A broken data URI leaves the box empty
// rather than failing the whole document.
func embedImage(doc *fpdf.Fpdf, block EvidenceBlock, x, y float64, index int) {
	raw, err := evidence.DecodeDataURI(block.Image)
	if err != nil {
		return
	}

	name := fmt.Sprintf("evidence-%d-%s", index, block.Key)
	options := fpdf.ImageOptions{ImageType: "JPEG"}

	info := doc.RegisterImageOptionsReader(name, options, bytes.NewReader(raw))
	if info == nil || info.Width() <= 0 {
		return
	}

	boxW, boxH := photoBoxW, photoBoxH-4

	width := boxW
	height := width * info.Height() / info.Width()

	if height > boxH {
		height = boxH
		width = height * info.Width() / info.Height()
	}

	doc.ImageOptions(name, x+(boxW-width)/2, y+(boxH-height)/2, width, height, false, options, 0, "")
}
