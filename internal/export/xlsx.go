package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"locamove/internal/models"

	"github.com/xuri/excelize/v2"
)

const bookingsSheet = "Bookings"

// BookingsWorkbook builds an xlsx workbook with one row per booking.
func BookingsWorkbook(bookings []*models.Booking) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(bookingsSheet)
	if err != nil {
		return nil, fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []string{
		"ID", "Reference", "Customer", "Phone", "Catalog", "Kind",
		"Start", "End", "Units", "Subtotal", "Options", "Discount",
		"Total", "Status", "Refund", "Created",
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(bookingsSheet, cell, header)
		_ = f.SetCellStyle(bookingsSheet, cell, cell, headerStyle)
	}

	for i, b := range bookings {
		row := i + 2
		endStr := ""
		if b.EndDate != nil {
			endStr = b.EndDate.Format("02.01.2006")
		}

		values := []any{
			b.ID, b.Reference, b.UserName, b.Phone, b.CatalogName, b.CatalogKind,
			b.StartDate.Format("02.01.2006"), endStr, b.DurationUnits, b.Subtotal, b.OptionsPrice, b.Discount,
			b.TotalAmount, b.Status, b.RefundAmount, b.CreatedAt.Format("02.01.2006 15:04"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(bookingsSheet, cell, v)
		}

		if styleID, err := rowStyle(f, b.Status); err == nil {
			first, _ := excelize.CoordinatesToCellName(1, row)
			last, _ := excelize.CoordinatesToCellName(len(values), row)
			_ = f.SetCellStyle(bookingsSheet, first, last, styleID)
		}
	}

	_ = f.SetColWidth(bookingsSheet, "A", "A", 8)
	_ = f.SetColWidth(bookingsSheet, "B", "B", 38)
	_ = f.SetColWidth(bookingsSheet, "C", "F", 18)
	_ = f.SetColWidth(bookingsSheet, "G", "H", 12)
	_ = f.SetColWidth(bookingsSheet, "I", "P", 12)

	_ = f.DeleteSheet("Sheet1")

	return f, nil
}

// SaveBookings writes the workbook into dir and returns the file path.
func SaveBookings(dir string, bookings []*models.Booking, from, to time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	f, err := BookingsWorkbook(bookings)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fileName := fmt.Sprintf("bookings_%s_to_%s.xlsx",
		from.Format("2006-01-02"), to.Format("2006-01-02"))
	filePath := filepath.Join(dir, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}
	return filePath, nil
}

func rowStyle(f *excelize.File, status string) (int, error) {
	fill := "#FFFFFF"
	switch status {
	case models.StatusConfirmed, models.StatusInProgress, models.StatusCompleted:
		fill = "#C6EFCE"
	case models.StatusPending:
		fill = "#FFEB9C"
	case models.StatusCancelled, models.StatusRejected:
		fill = "#FFC7CE"
	}

	return f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{fill}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "left",
			Vertical:   "top",
		},
	})
}
