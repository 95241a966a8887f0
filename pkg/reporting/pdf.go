// Package reporting renders calculation reports as PDF.
package reporting

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/gosimple/slug"

	"metalcalc_backend/pkg/calculator"
)

var (
	colorTextDark    = [3]int{51, 51, 51}
	colorTextMuted   = [3]int{102, 102, 102}
	colorTableHeader = [3]int{241, 248, 233}
	colorTableAlt    = [3]int{250, 250, 250}
	colorGridLine    = [3]int{220, 220, 220}
	colorHighlight   = [3]int{240, 253, 244}
	colorValue       = [3]int{5, 150, 105}
	colorWatermark   = [3]int{224, 224, 224}
)

const watermarkText = "VERSAO GRATUITA - CALCULADORA DE OURO"

type ReportData struct {
	Result      calculator.Result
	Email       string
	Pro         bool
	QuoteSource string
	GeneratedAt time.Time
}

// PDFGenerator renders one single-page A4 report per calculation.
type PDFGenerator struct {
	location *time.Location
}

func NewPDFGenerator(location *time.Location) *PDFGenerator {
	if location == nil {
		location = time.UTC
	}
	return &PDFGenerator{location: location}
}

func (g *PDFGenerator) Generate(data ReportData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(false, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	g.writeHeader(pdf, tr, data)
	g.writeTable(pdf, tr, data)
	g.writeSummary(pdf, tr, data)
	if !data.Pro {
		g.writeWatermark(pdf)
	}
	g.writeFooter(pdf, tr)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName is a URL-safe name for the report download.
func (g *PDFGenerator) FileName(data ReportData) string {
	stamp := data.GeneratedAt.In(g.location).Format("2006-01-02 150405")
	return slug.Make(fmt.Sprintf("relatorio %s %s", data.Result.Metal.Label(), stamp)) + ".pdf"
}

func (g *PDFGenerator) writeHeader(pdf *fpdf.Fpdf, tr func(string) string, data ReportData) {
	pdf.SetY(17)
	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 8, tr("Calculadora de Ouro"), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 7, tr("Relatório de Avaliação de "+data.Result.Metal.Label()), "", 1, "C", false, 0, "")

	email := data.Email
	if email == "" {
		email = "N/A"
	}
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	generated := data.GeneratedAt.In(g.location).Format("02/01/2006 15:04:05")
	pdf.CellFormat(0, 5, tr(fmt.Sprintf("Gerado em: %s - Usuário: %s", generated, email)), "", 1, "C", false, 0, "")
}

func (g *PDFGenerator) writeTable(pdf *fpdf.Fpdf, tr func(string) string, data ReportData) {
	res := data.Result
	rows := [][2]string{
		{"Peso Seco (g)", formatNumber(res.DryWeight)},
		{"Peso Molhado (g)", formatNumber(res.WetWeight)},
		{"Cotação do Grama (BRL)", formatCurrency(res.PricePerGram)},
		{"Deságio Aplicado (%)", formatNumber(res.Adjustment)},
		{"Teor do Metal Calculado (%)", formatNumber(res.Purity) + "%"},
		{"Peso Fino (g)", formatNumber(res.FineWeight)},
	}

	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colWidth := (pageWidth - left - right) / 2

	pdf.SetY(45)
	pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(colWidth, 9, tr("Parâmetro"), "1", 0, "L", true, 0, "")
	pdf.CellFormat(colWidth, 9, tr("Valor"), "1", 1, "L", true, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	for i, row := range rows {
		fill := i%2 == 1
		if fill {
			pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		}
		pdf.CellFormat(colWidth, 9, tr(row[0]), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(colWidth, 9, tr(row[1]), "1", 1, "L", fill, 0, "")
	}
}

func (g *PDFGenerator) writeSummary(pdf *fpdf.Fpdf, tr func(string) string, data ReportData) {
	res := data.Result
	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	contentWidth := pageWidth - left - right

	summary := "Este é um relatório demonstrativo. Para relatórios oficiais e personalizados, faça upgrade para a versão Pro."
	if data.Pro {
		summary = fmt.Sprintf("Com base nos parâmetros informados, o valor justo de compra do %s é %s.",
			strings.ToLower(res.Metal.Label()), formatCurrency(res.Value))
	}

	y := pdf.GetY() + 15
	pdf.SetXY(left, y)
	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.MultiCell(contentWidth, 6, tr(summary), "", "L", false)

	y = pdf.GetY() + 6
	pdf.SetFillColor(colorHighlight[0], colorHighlight[1], colorHighlight[2])
	pdf.Rect(left, y, contentWidth, 16, "F")
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(colorValue[0], colorValue[1], colorValue[2])
	pdf.SetXY(left+5, y)
	pdf.CellFormat(contentWidth/2, 16, "Valor Final a Pagar:", "", 0, "L", false, 0, "")
	pdf.CellFormat(contentWidth/2-10, 16, tr(formatCurrency(res.Value)), "", 1, "R", false, 0, "")

	if data.QuoteSource != "" {
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.SetX(left)
		pdf.CellFormat(contentWidth, 6, tr("Fonte da cotação: "+data.QuoteSource), "", 1, "L", false, 0, "")
	}
}

func (g *PDFGenerator) writeWatermark(pdf *fpdf.Fpdf) {
	pageWidth, pageHeight := pdf.GetPageSize()

	pdf.SetAlpha(0.15, "Normal")
	pdf.SetFont("Helvetica", "B", 48)
	pdf.SetTextColor(colorWatermark[0], colorWatermark[1], colorWatermark[2])
	textWidth := pdf.GetStringWidth(watermarkText)

	for y := -pageHeight; y < pageHeight*2; y += 80 {
		for x := -pageWidth; x < pageWidth*2; x += textWidth - 50 {
			pdf.TransformBegin()
			pdf.TransformRotate(30, x, y)
			pdf.Text(x, y, watermarkText)
			pdf.TransformEnd()
		}
	}
	pdf.SetAlpha(1, "Normal")
}

func (g *PDFGenerator) writeFooter(pdf *fpdf.Fpdf, tr func(string) string) {
	_, pageHeight := pdf.GetPageSize()
	pdf.SetY(pageHeight - 15)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 5, tr("Os valores são estimativas baseadas na cotação do momento da geração."), "", 1, "C", false, 0, "")
}

// formatNumber renders pt-BR decimals; negatives and non-finite values print
// as zero.
func formatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return "0,00"
	}
	return strings.Replace(fmt.Sprintf("%.2f", v), ".", ",", 1)
}

func formatCurrency(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := fmt.Sprintf("%.2f", v)
	intPart, frac := whole[:len(whole)-3], whole[len(whole)-2:]

	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}
	return fmt.Sprintf("%sR$ %s,%s", sign, grouped.String(), frac)
}
