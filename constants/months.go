package constants

// MonthNames maps a zero-padded month number to its Portuguese name,
// used in segmented payslip filenames.
var MonthNames = map[string]string{
	"01": "janeiro",
	"02": "fevereiro",
	"03": "março",
	"04": "abril",
	"05": "maio",
	"06": "junho",
	"07": "julho",
	"08": "agosto",
	"09": "setembro",
	"10": "outubro",
	"11": "novembro",
	"12": "dezembro",
}
