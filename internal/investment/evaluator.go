package investment

import (
	"math"

	"propval/internal/models"
)

// MortgagePayment is the fixed-rate amortized monthly payment. A zero rate
// spreads the principal evenly; a non-positive term or principal pays 0.
func MortgagePayment(principal, annualRate float64, years int) float64 {
	n := float64(years * 12)
	if principal <= 0 || n <= 0 {
		return 0
	}
	r := annualRate / 12
	if r == 0 {
		return principal / n
	}
	growth := math.Pow(1+r, n)
	return principal * r * growth / (growth - 1)
}

// RemainingBalance is the outstanding principal after the given number of
// years of payments. The linear mode charges a full year of interest on the
// original principal each year, so principal paid is payments minus
// principal·rate·years. The schedule mode follows the monthly recurrence.
func RemainingBalance(principal, annualRate float64, termYears, afterYears int, mode models.AmortizationMode) float64 {
	if principal <= 0 || termYears <= 0 {
		return 0
	}
	if afterYears >= termYears {
		return 0
	}
	if afterYears <= 0 {
		return principal
	}

	payment := MortgagePayment(principal, annualRate, termYears)
	years := float64(afterYears)
	if mode != models.AmortizationSchedule {
		paid := payment*12*years - principal*annualRate*years
		return math.Min(principal, math.Max(0, principal-paid))
	}

	r := annualRate / 12
	k := years * 12
	if r == 0 {
		return math.Max(0, principal-payment*k)
	}
	growth := math.Pow(1+r, k)
	return math.Max(0, principal*growth-payment*(growth-1)/r)
}

// Evaluate derives the financial metrics of buying at price under the given
// assumptions, which are used as given: a zero rate is a zero rate. Build
// them from models.DefaultInvestmentAssumptions or AssumptionOverrides.Apply.
// Ratios with a zero denominator are reported as 0.
func Evaluate(price float64, a models.InvestmentAssumptions) models.InvestmentMetrics {
	if !isFinite(price) {
		price = 0
	}

	m := models.InvestmentMetrics{
		PurchasePrice:      price,
		HoldingPeriodYears: a.HoldingPeriodYears,
	}

	m.DownPayment = price * a.DownPaymentPct
	m.LoanAmount = price - m.DownPayment
	m.MonthlyMortgage = MortgagePayment(m.LoanAmount, a.MortgageRate, a.LoanTermYears)

	m.MonthlyRent = a.MonthlyRent
	if m.MonthlyRent <= 0 {
		m.MonthlyRent = price * a.RentalEstimateRatio
	}
	m.AnnualRent = m.MonthlyRent * 12

	m.Expenses = models.ExpenseBreakdown{
		PropertyTax: price * a.PropertyTaxRate,
		Insurance:   price * a.InsuranceRate,
		Maintenance: price * a.MaintenanceRate,
		Vacancy:     m.AnnualRent * a.VacancyRate,
		Management:  m.AnnualRent * a.ManagementRate,
	}
	m.AnnualExpenses = m.Expenses.Total()

	m.NOI = m.AnnualRent - m.AnnualExpenses
	m.AnnualCashFlow = m.NOI - m.MonthlyMortgage*12
	m.MonthlyCashFlow = m.AnnualCashFlow / 12

	m.CapRate = ratio(m.NOI, price) * 100
	m.CashOnCashReturn = ratio(m.AnnualCashFlow, m.DownPayment) * 100
	m.GrossRentMultiplier = ratio(price, m.AnnualRent)

	years := float64(a.HoldingPeriodYears)
	m.FutureValue = price * math.Pow(1+a.AppreciationRate, years)
	m.RemainingLoan = RemainingBalance(m.LoanAmount, a.MortgageRate, a.LoanTermYears, a.HoldingPeriodYears, a.Amortization)
	m.EquityAtHorizon = m.FutureValue - m.RemainingLoan
	m.CumulativeCashFlow = m.AnnualCashFlow * years
	m.TotalProfit = (m.EquityAtHorizon - m.DownPayment) + m.CumulativeCashFlow
	m.TotalROI = ratio(m.TotalProfit, m.DownPayment) * 100
	m.AnnualizedROI = annualize(m.TotalROI, years)

	return sanitize(m)
}

// annualize converts a total percentage return over years into a yearly
// compound rate. Losing everything or more reports -100.
func annualize(totalROI, years float64) float64 {
	if years <= 0 {
		return 0
	}
	base := 1 + totalROI/100
	if base <= 0 {
		return -100
	}
	return (math.Pow(base, 1/years) - 1) * 100
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finite(v float64) float64 {
	if isFinite(v) {
		return v
	}
	return 0
}

func sanitize(m models.InvestmentMetrics) models.InvestmentMetrics {
	for _, f := range []*float64{
		&m.PurchasePrice, &m.DownPayment, &m.LoanAmount, &m.MonthlyMortgage,
		&m.MonthlyRent, &m.AnnualRent, &m.AnnualExpenses, &m.NOI,
		&m.AnnualCashFlow, &m.MonthlyCashFlow, &m.CapRate, &m.CashOnCashReturn,
		&m.GrossRentMultiplier, &m.FutureValue, &m.RemainingLoan, &m.EquityAtHorizon,
		&m.CumulativeCashFlow, &m.TotalProfit, &m.TotalROI, &m.AnnualizedROI,
		&m.Expenses.PropertyTax, &m.Expenses.Insurance, &m.Expenses.Maintenance,
		&m.Expenses.Vacancy, &m.Expenses.Management,
	} {
		*f = finite(*f)
	}
	return m
}
