package nlp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Exchange rates against the CFA franc (XOF).
const (
	EURToXOF = 655.957
	USDToXOF = 600.0
)

// VATRate is the Ivorian VAT rate.
const VATRate = 0.18

var fr = message.NewPrinter(language.French)

// FormatNumber renders v the way a French speaker writes it: grouped
// thousands, a decimal comma and at most three fraction digits.
func FormatNumber(v float64) string {
	return fr.Sprint(number.Decimal(v, number.MaxFractionDigits(3)))
}

func plain(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseNum(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

const num = `(\d+(?:\.\d+)?)`

var (
	eurToCFA   = regexp.MustCompile(`(?i)` + num + `\s*(?:euros?|eur|€)\s*(?:en|to|vers?)\s*(?:cfa|fcfa|xof)`)
	usdToCFA   = regexp.MustCompile(`(?i)` + num + `\s*(?:dollars?|usd|\$)\s*(?:en|to|vers?)\s*(?:cfa|fcfa|xof)`)
	cfaToEUR   = regexp.MustCompile(`(?i)` + num + `\s*(?:cfa|fcfa|xof)\s*(?:en|to|vers?)\s*(?:euros?|eur|€)`)
	temp       = regexp.MustCompile(`(?i)` + num + `\s*°?\s*([cf])\s*(?:en|to|vers?)\s*°?\s*([cf])\b`)
	kmToMiles  = regexp.MustCompile(`(?i)` + num + `\s*(?:km|kilomètres?)\s*(?:en|to|vers?)\s*miles?`)
	milesToKm  = regexp.MustCompile(`(?i)` + num + `\s*miles?\s*(?:en|to|vers?)\s*(?:km|kilomètres?)`)
	shareAmong = regexp.MustCompile(`(?i)partage\s+` + num + `\s*(?:cfa|fcfa|€|euros?)?\s+entre\s+(\d+)\s*(?:personnes?)?`)
	percentOf  = regexp.MustCompile(`(?i)` + num + `\s*%\s*de\s*` + num)
	vatOn      = regexp.MustCompile(`(?i)calcule?\s+(?:la\s+)?tva\s+(?:sur|de)\s+` + num)
	addExpr    = regexp.MustCompile(num + `\s*\+\s*` + num)
	subExpr    = regexp.MustCompile(num + `\s*-\s*` + num)
	mulExpr    = regexp.MustCompile(num + `\s*[x*×]\s*` + num)
	divExpr    = regexp.MustCompile(num + `\s*[/÷]\s*` + num)
	datePhrase = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}(?:[/-]\d{2,4})?`)
)

// Conversion handles currency (EUR, USD, CFA), temperature and distance
// conversions.
func Conversion(text string) (string, bool) {
	if m := eurToCFA.FindStringSubmatch(text); m != nil {
		amount := parseNum(m[1])
		return fmt.Sprintf("💱 %s € = %s CFA", plain(amount), FormatNumber(amount*EURToXOF)), true
	}
	if m := usdToCFA.FindStringSubmatch(text); m != nil {
		amount := parseNum(m[1])
		return fmt.Sprintf("💱 %s $ = %s CFA", plain(amount), FormatNumber(amount*USDToXOF)), true
	}
	if m := cfaToEUR.FindStringSubmatch(text); m != nil {
		amount := parseNum(m[1])
		return fmt.Sprintf("💱 %s CFA = %.2f €", FormatNumber(amount), amount/EURToXOF), true
	}
	if m := temp.FindStringSubmatch(text); m != nil {
		v := parseNum(m[1])
		from, to := strings.ToUpper(m[2]), strings.ToUpper(m[3])
		res := v
		switch {
		case from == "C" && to == "F":
			res = v*9/5 + 32
		case from == "F" && to == "C":
			res = (v - 32) * 5 / 9
		}
		return fmt.Sprintf("💱 %s°%s = %.1f°%s", plain(v), from, res, to), true
	}
	if m := kmToMiles.FindStringSubmatch(text); m != nil {
		v := parseNum(m[1])
		return fmt.Sprintf("💱 %s km = %.2f miles", plain(v), v*0.621371), true
	}
	if m := milesToKm.FindStringSubmatch(text); m != nil {
		v := parseNum(m[1])
		return fmt.Sprintf("💱 %s miles = %.2f km", plain(v), v*1.60934), true
	}
	return "", false
}

// Calculation handles bill splitting, percentages, VAT and two-operand
// arithmetic. Dates such as 25/12/2026 are left to the date detector.
func Calculation(text string) (string, bool) {
	if m := shareAmong.FindStringSubmatch(text); m != nil {
		amount := parseNum(m[1])
		people, _ := strconv.Atoi(m[2])
		if people == 0 {
			return "", false
		}
		return fmt.Sprintf("🧮 %s CFA par personne\n%s CFA partagé entre %d personnes",
			FormatNumber(amount/float64(people)), FormatNumber(amount), people), true
	}
	if m := percentOf.FindStringSubmatch(text); m != nil {
		pct, amount := parseNum(m[1]), parseNum(m[2])
		return fmt.Sprintf("🧮 %s\n%s%% de %s", FormatNumber(pct/100*amount), plain(pct), FormatNumber(amount)), true
	}
	if m := vatOn.FindStringSubmatch(text); m != nil {
		amount := parseNum(m[1])
		vat := amount * VATRate
		return fmt.Sprintf("🧮 HT: %s CFA\nTVA (18%%): %s CFA\nTTC: %s CFA\nCalcul avec TVA à 18%%",
			FormatNumber(amount), FormatNumber(vat), FormatNumber(amount+vat)), true
	}

	if datePhrase.MatchString(text) {
		return "", false
	}
	if m := addExpr.FindStringSubmatch(text); m != nil {
		return "🧮 " + FormatNumber(parseNum(m[1])+parseNum(m[2])), true
	}
	if m := subExpr.FindStringSubmatch(text); m != nil {
		return "🧮 " + FormatNumber(parseNum(m[1])-parseNum(m[2])), true
	}
	if m := mulExpr.FindStringSubmatch(text); m != nil {
		return "🧮 " + FormatNumber(parseNum(m[1])*parseNum(m[2])), true
	}
	if m := divExpr.FindStringSubmatch(text); m != nil {
		b := parseNum(m[2])
		if b == 0 {
			return "", false
		}
		return "🧮 " + FormatNumber(parseNum(m[1])/b), true
	}
	return "", false
}
