// Package extract pulls structured fields out of the raw text of a single
// payroll page. Every field has an ordered chain of patterns; the first one
// that matches wins and later, broader patterns are only tried after the
// earlier ones fail. Fields are independent: a miss on one never affects
// another, and a miss is reported as an unmatched field, not an error.
package extract

import (
	"regexp"
	"strings"

	"github.com/lucasplcorrea/EnviaFolha/constants"
)

// Field is a tagged extraction result.
type Field struct {
	Value   string
	Matched bool
}

// Or returns the matched value or the given sentinel.
func (f Field) Or(sentinel string) string {
	if f.Matched {
		return f.Value
	}
	return sentinel
}

// PageFields is the best-effort extraction result for one page.
type PageFields struct {
	RegistrationCode Field
	CompanyCode      Field
	TaxIDFragment    Field
	ReferencePeriod  Field
}

type pattern struct {
	re    *regexp.Regexp
	group int
}

type chain []pattern

func (c chain) apply(text string) Field {
	for _, p := range c {
		if m := p.re.FindStringSubmatch(text); m != nil && p.group < len(m) {
			return Field{Value: m[p.group], Matched: true}
		}
	}
	return Field{}
}

// The page layout puts the registration number on the line below the
// employee table header. The broader fallback keys off the
// number-name-CBO row shape instead of the header.
var registrationChain = chain{
	{re: regexp.MustCompile(`Cadastro\s*Nome\s*do\s*Funcionário\s*CBO\s*Empresa\s*Local\s*Departamento\s*FL\s*\n\s*(\d+)`), group: 1},
	{re: regexp.MustCompile(`\n\s*(\d+)\s+[A-ZÀ-Ú\s]+?\s+\d{6}`), group: 1},
}

// The company code is the third numeric column of the employee row; the
// fallback matches a NNNN-COMPANY NAME heading line.
var companyChain = chain{
	{re: regexp.MustCompile(`(\d+)\s+[A-ZÀ-Ú\s]+\s+(\d+)\s+(\d+)\s+\d+\s+\d+\s+\d+`), group: 3},
	{re: regexp.MustCompile(`(?m)^(\d{4})-[A-ZÀ-Ú]`), group: 1},
}

var taxIDChain = chain{
	{re: regexp.MustCompile(`CPF:\s*(\d{3}\.\d{3}\.\d{3}-\d{2})`), group: 1},
	{re: regexp.MustCompile(`CPF:?\s*(\d{11})`), group: 1},
}

var periodChain = chain{
	{re: regexp.MustCompile(`(\d{2}/\d{4})\s*Mensal`), group: 1},
}

// Extract runs every field chain over the page text.
func Extract(text string) PageFields {
	return PageFields{
		RegistrationCode: registrationChain.apply(text),
		CompanyCode:      companyChain.apply(text),
		TaxIDFragment:    taxIDChain.apply(text),
		ReferencePeriod:  periodChain.apply(text),
	}
}

var nonDigits = regexp.MustCompile(`\D`)

// Password derives the document password from a tax-id fragment: the
// first four characters of its digits. Empty when the fragment has
// fewer than four digits.
func Password(taxID string) string {
	digits := nonDigits.ReplaceAllString(taxID, "")
	if len(digits) < 4 {
		return ""
	}
	return digits[:4]
}

// UnknownDate is the sentinel used when no reference period was found.
const UnknownDate = "UNKNOWN_DATE"

// FormatPeriod turns a "MM/YYYY" period into the localized
// "month_year" form used in filenames, e.g. "06/2025" -> "junho_2025".
func FormatPeriod(period Field) string {
	if !period.Matched {
		return UnknownDate
	}
	parts := strings.SplitN(period.Value, "/", 2)
	if len(parts) != 2 {
		return UnknownDate
	}
	name, ok := constants.MonthNames[parts[0]]
	if !ok {
		return UnknownDate
	}
	return name + "_" + parts[1]
}
