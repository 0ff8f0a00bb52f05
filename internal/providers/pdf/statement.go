package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// StatementData is the fully formatted statement content. Amounts arrive as
// display strings; the renderer does layout only.
type StatementData struct {
	CustomerName  string
	CustomerERPID string
	GeneratedAt   string

	TotalBalance string

	AgingCurrent string
	Aging1To30   string
	Aging31To60  string
	Aging61Plus  string

	Rows []StatementRow
}

type StatementRow struct {
	Reference   string
	InvoiceDate string
	DueDate     string
	DaysOverdue int
	Amount      string
	Balance     string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Account Statement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New(data.CustomerName, props.Text{Style: fontstyle.Bold}),
			text.New("Account: "+data.CustomerERPID, props.Text{Top: 5, Size: 9}),
			text.New("Generated: "+data.GeneratedAt, props.Text{Top: 10, Size: 9}),
		),
		col.New(6).Add(
			text.New("Total outstanding", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(data.TotalBalance, props.Text{Top: 5, Size: 14, Style: fontstyle.Bold, Align: align.Right}),
		),
	)

	// Aging summary
	m.AddRow(8,
		text.NewCol(3, "Current", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "1-30 days", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "31-60 days", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "61+ days", props.Text{Style: fontstyle.Bold, Size: 9}),
	)
	m.AddRow(8,
		text.NewCol(3, data.AgingCurrent, props.Text{Size: 9}),
		text.NewCol(3, data.Aging1To30, props.Text{Size: 9}),
		text.NewCol(3, data.Aging31To60, props.Text{Size: 9}),
		text.NewCol(3, data.Aging61Plus, props.Text{Size: 9}),
	)

	// Open documents
	m.AddRow(10,
		text.NewCol(3, "Reference", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Invoice date", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Due date", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(1, "Overdue", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Balance", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, row := range data.Rows {
		m.AddRow(8,
			text.NewCol(3, row.Reference, props.Text{Size: 9}),
			text.NewCol(2, row.InvoiceDate, props.Text{Size: 9}),
			text.NewCol(2, row.DueDate, props.Text{Size: 9}),
			text.NewCol(1, fmt.Sprintf("%d", row.DaysOverdue), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, row.Amount, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, row.Balance, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(12,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, data.TotalBalance, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}
