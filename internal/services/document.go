package services

import (
	"fmt"
	"strings"

	"github.com/brademus/investorkonnect-sub002/internal/models"
)

// renderAgreementPDF produces the signable agreement document. The layout
// is a deliberately minimal single-page PDF carrying the Exhibit A terms;
// the legal template itself is supplied by counsel and substituted at the
// provider level.
func renderAgreementPDF(agreement *models.LegalAgreement, propertyAddress string) []byte {
	var lines []string
	lines = append(lines, "Exclusive Representation Agreement")
	lines = append(lines, fmt.Sprintf("Agreement %s / Deal %s", agreement.ID, agreement.DealID))
	if propertyAddress != "" {
		lines = append(lines, "Property: "+propertyAddress)
	}
	lines = append(lines, "Exhibit A - Commission Terms")
	lines = append(lines, describeSide("Buyer side", agreement.ExhibitATerms.BuyerSide)...)
	lines = append(lines, describeSide("Seller side", agreement.ExhibitATerms.SellerSide)...)

	var content strings.Builder
	content.WriteString("BT /F1 11 Tf 50 760 Td 16 TL\n")
	for _, line := range lines {
		content.WriteString(fmt.Sprintf("(%s) Tj T*\n", escapePDFText(line)))
	}
	content.WriteString("ET")

	stream := content.String()
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
	}

	var buf strings.Builder
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects)+1)
	for i, obj := range objects {
		offsets[i+1] = buf.Len()
		buf.WriteString(fmt.Sprintf("%d 0 obj\n%s\nendobj\n", i+1, obj))
	}
	xrefStart := buf.Len()
	buf.WriteString(fmt.Sprintf("xref\n0 %d\n0000000000 65535 f \n", len(objects)+1))
	for i := 1; i <= len(objects); i++ {
		buf.WriteString(fmt.Sprintf("%010d 00000 n \n", offsets[i]))
	}
	buf.WriteString(fmt.Sprintf("trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefStart))
	return []byte(buf.String())
}

func describeSide(label string, side *models.CommissionTerms) []string {
	if side == nil {
		return nil
	}
	var desc string
	switch side.Type {
	case models.CommissionPercentage:
		if side.Percentage != nil {
			desc = fmt.Sprintf("%s: %.2f%% commission, %d day term", label, *side.Percentage, side.AgreementLengthDays)
		}
	case models.CommissionFlatFee:
		if side.FlatAmount != nil {
			desc = fmt.Sprintf("%s: $%.2f flat fee, %d day term", label, *side.FlatAmount, side.AgreementLengthDays)
		}
	}
	if desc == "" {
		desc = fmt.Sprintf("%s: terms incomplete", label)
	}
	return []string{desc}
}

func escapePDFText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "(", "\\(")
	s = strings.ReplaceAll(s, ")", "\\)")
	return s
}
