package report

import (
	"fmt"
	"strconv"
	"time"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/core/entity"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Renderer turns reports into printable documents.
type Renderer interface {
	Revenue(r RevenueReport) ([]byte, error)
	Occupancy(r OccupancyReport) ([]byte, error)
}

var (
	colorPrimary = &props.Color{Red: 20, Green: 60, Blue: 110}
	colorGray    = &props.Color{Red: 110, Green: 110, Blue: 110}
)

// PDFRenderer renders A4 PDFs with maroto.
type PDFRenderer struct {
	Organization string
	Loc          *time.Location
}

// Revenue renders the revenue report.
func (p PDFRenderer) Revenue(r RevenueReport) ([]byte, error) {
	m := maroto.New(p.config("Revenue report"))
	m.AddRows(p.header("Revenue report", r.GeneratedAt))
	m.AddRows(summaryRow("Session revenue", r.Total.StringFixed(2), "Paid invoices", r.InvoiceTotal.StringFixed(2)))
	m.AddRows(divider())

	m.AddRows(tableHeader([]string{"Service", "Sessions", "Revenue"}, []int{6, 3, 3}))
	for _, s := range r.ByService {
		m.AddRows(tableRow([]string{s.Service, strconv.Itoa(s.Sessions), s.Total.StringFixed(2)}, []int{6, 3, 3}))
	}
	m.AddRows(divider())

	m.AddRows(tableHeader([]string{"Day", "Sessions", "Revenue"}, []int{6, 3, 3}))
	for _, d := range r.ByDay {
		m.AddRows(tableRow([]string{d.Day, strconv.Itoa(d.Sessions), d.Total.StringFixed(2)}, []int{6, 3, 3}))
	}
	m.AddRows(divider())

	widths := []int{3, 2, 3, 2, 2}
	m.AddRows(tableHeader([]string{"Entry", "Plate", "Service", "Exit", "Paid"}, widths))
	for _, s := range r.Rows {
		exit := "open"
		if s.ExitTime != nil {
			exit = p.clock(*s.ExitTime)
		}
		m.AddRows(tableRow([]string{p.clock(s.EntryTime), s.Plate, s.Service, exit, s.AmountPaid.StringFixed(2)}, widths))
	}
	m.AddRows(text.NewRow(6, fmt.Sprintf("Page %d, %d rows in total", r.Pagination.Page, r.Pagination.TotalItems),
		props.Text{Size: 7, Color: colorGray, Top: 2}))
	return generate(m)
}

// Occupancy renders the occupancy report.
func (p PDFRenderer) Occupancy(r OccupancyReport) ([]byte, error) {
	m := maroto.New(p.config("Occupancy report"))
	m.AddRows(p.header("Occupancy report: "+r.LotName, r.GeneratedAt))
	m.AddRows(summaryRow("Capacity", strconv.Itoa(r.Capacity), "Range", r.From+" to "+r.To))
	m.AddRows(summaryRow("Peak", strconv.Itoa(r.Peak)+"%", "Average", strconv.Itoa(r.Average)+"%"))
	m.AddRows(divider())

	widths := []int{6, 3, 3}
	m.AddRows(tableHeader([]string{"Day", "Vehicles", "Occupancy"}, widths))
	for _, d := range r.Days {
		m.AddRows(tableRow([]string{d.Day, strconv.Itoa(d.Occupied), strconv.Itoa(d.Percentage) + "%"}, widths))
	}
	return generate(m)
}

func (p PDFRenderer) config(title string) *entity.Config {
	return config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle(title, true).
		WithAuthor(p.Organization, true).
		Build()
}

func (p PDFRenderer) header(title string, generated time.Time) core.Row {
	return row.New(16).Add(
		col.New(8).Add(
			text.New(title, props.Text{Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1}),
			text.New(p.Organization, props.Text{Size: 8, Color: colorGray, Top: 9}),
		),
		col.New(4).Add(
			text.New("Generated "+p.clock(generated), props.Text{Size: 8, Align: align.Right, Color: colorGray, Top: 2}),
		),
	)
}

func (p PDFRenderer) clock(t time.Time) string {
	loc := p.Loc
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02 15:04")
}

func summaryRow(leftLabel, leftValue, rightLabel, rightValue string) core.Row {
	cell := func(label, value string) core.Col {
		return col.New(6).Add(
			text.New(label, props.Text{Size: 7, Color: colorGray, Top: 1}),
			text.New(value, props.Text{Style: fontstyle.Bold, Size: 11, Top: 5}),
		)
	}
	return row.New(13).Add(cell(leftLabel, leftValue), cell(rightLabel, rightValue))
}

func tableHeader(labels []string, widths []int) core.Row {
	cols := make([]core.Col, 0, len(labels))
	for i, label := range labels {
		cols = append(cols, col.New(widths[i]).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1, Align: cellAlign(i),
		})))
	}
	return row.New(7).Add(cols...)
}

func tableRow(values []string, widths []int) core.Row {
	cols := make([]core.Col, 0, len(values))
	for i, value := range values {
		cols = append(cols, col.New(widths[i]).Add(text.New(value, props.Text{Size: 8, Top: 1, Align: cellAlign(i)})))
	}
	return row.New(6).Add(cols...)
}

func cellAlign(i int) align.Type {
	if i == 0 {
		return align.Left
	}
	return align.Right
}

func divider() core.Row {
	return line.NewRow(4, props.Line{Color: colorPrimary, Thickness: 0.3})
}

func generate(m core.Maroto) ([]byte, error) {
	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("report: generate pdf: %w", err)
	}
	return doc.GetBytes(), nil
}
