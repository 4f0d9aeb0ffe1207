package models

// AmortizationMode selects how the remaining loan balance is projected
type AmortizationMode string

const (
	// AmortizationLinear pays principal down evenly over the loan term
	AmortizationLinear AmortizationMode = "linear"
	// AmortizationSchedule uses the fixed-rate amortization recurrence
	AmortizationSchedule AmortizationMode = "schedule"
)

// InvestmentAssumptions configures the investment evaluator. Rates are
// fractions: 0.2 means 20%. Every field is taken as given; a MonthlyRent of
// 0 means the rent is estimated from RentalEstimateRatio.
type InvestmentAssumptions struct {
	DownPaymentPct      float64          `json:"down_payment_pct" yaml:"down_payment_pct" env:"DOWN_PAYMENT_PCT" envDefault:"0.20"`
	MortgageRate        float64          `json:"mortgage_rate" yaml:"mortgage_rate" env:"MORTGAGE_RATE" envDefault:"0.045"`
	LoanTermYears       int              `json:"loan_term_years" yaml:"loan_term_years" env:"LOAN_TERM_YEARS" envDefault:"30"`
	RentalEstimateRatio float64          `json:"rental_estimate_ratio" yaml:"rental_estimate_ratio" env:"RENTAL_ESTIMATE_RATIO" envDefault:"0.007"`
	PropertyTaxRate     float64          `json:"property_tax_rate" yaml:"property_tax_rate" env:"PROPERTY_TAX_RATE" envDefault:"0.01"`
	InsuranceRate       float64          `json:"insurance_rate" yaml:"insurance_rate" env:"INSURANCE_RATE" envDefault:"0.005"`
	MaintenanceRate     float64          `json:"maintenance_rate" yaml:"maintenance_rate" env:"MAINTENANCE_RATE" envDefault:"0.01"`
	VacancyRate         float64          `json:"vacancy_rate" yaml:"vacancy_rate" env:"VACANCY_RATE" envDefault:"0.08"`
	ManagementRate      float64          `json:"management_rate" yaml:"management_rate" env:"MANAGEMENT_RATE" envDefault:"0"`
	AppreciationRate    float64          `json:"appreciation_rate" yaml:"appreciation_rate" env:"APPRECIATION_RATE" envDefault:"0.03"`
	HoldingPeriodYears  int              `json:"holding_period_years" yaml:"holding_period_years" env:"HOLDING_PERIOD_YEARS" envDefault:"5"`
	MonthlyRent         float64          `json:"monthly_rent" yaml:"monthly_rent"`
	Amortization        AmortizationMode `json:"amortization" yaml:"amortization" env:"AMORTIZATION" envDefault:"linear"`
}

// DefaultInvestmentAssumptions mirrors the envDefault tags above
func DefaultInvestmentAssumptions() InvestmentAssumptions {
	return InvestmentAssumptions{
		DownPaymentPct:      0.20,
		MortgageRate:        0.045,
		LoanTermYears:       30,
		RentalEstimateRatio: 0.007,
		PropertyTaxRate:     0.01,
		InsuranceRate:       0.005,
		MaintenanceRate:     0.01,
		VacancyRate:         0.08,
		AppreciationRate:    0.03,
		HoldingPeriodYears:  5,
		Amortization:        AmortizationLinear,
	}
}

// AssumptionOverrides is the caller-facing form of InvestmentAssumptions.
// Nil fields keep the base value; an explicit zero is applied as zero.
type AssumptionOverrides struct {
	DownPaymentPct      *float64          `json:"down_payment_pct,omitempty" yaml:"down_payment_pct,omitempty"`
	MortgageRate        *float64          `json:"mortgage_rate,omitempty" yaml:"mortgage_rate,omitempty"`
	LoanTermYears       *int              `json:"loan_term_years,omitempty" yaml:"loan_term_years,omitempty"`
	RentalEstimateRatio *float64          `json:"rental_estimate_ratio,omitempty" yaml:"rental_estimate_ratio,omitempty"`
	PropertyTaxRate     *float64          `json:"property_tax_rate,omitempty" yaml:"property_tax_rate,omitempty"`
	InsuranceRate       *float64          `json:"insurance_rate,omitempty" yaml:"insurance_rate,omitempty"`
	MaintenanceRate     *float64          `json:"maintenance_rate,omitempty" yaml:"maintenance_rate,omitempty"`
	VacancyRate         *float64          `json:"vacancy_rate,omitempty" yaml:"vacancy_rate,omitempty"`
	ManagementRate      *float64          `json:"management_rate,omitempty" yaml:"management_rate,omitempty"`
	AppreciationRate    *float64          `json:"appreciation_rate,omitempty" yaml:"appreciation_rate,omitempty"`
	HoldingPeriodYears  *int              `json:"holding_period_years,omitempty" yaml:"holding_period_years,omitempty"`
	MonthlyRent         *float64          `json:"monthly_rent,omitempty" yaml:"monthly_rent,omitempty"`
	Amortization        *AmortizationMode `json:"amortization,omitempty" yaml:"amortization,omitempty"`
}

// Apply returns base with every set override written over it
func (o AssumptionOverrides) Apply(base InvestmentAssumptions) InvestmentAssumptions {
	a := base
	setFloat := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setFloat(&a.DownPaymentPct, o.DownPaymentPct)
	setFloat(&a.MortgageRate, o.MortgageRate)
	setInt(&a.LoanTermYears, o.LoanTermYears)
	setFloat(&a.RentalEstimateRatio, o.RentalEstimateRatio)
	setFloat(&a.PropertyTaxRate, o.PropertyTaxRate)
	setFloat(&a.InsuranceRate, o.InsuranceRate)
	setFloat(&a.MaintenanceRate, o.MaintenanceRate)
	setFloat(&a.VacancyRate, o.VacancyRate)
	setFloat(&a.ManagementRate, o.ManagementRate)
	setFloat(&a.AppreciationRate, o.AppreciationRate)
	setInt(&a.HoldingPeriodYears, o.HoldingPeriodYears)
	setFloat(&a.MonthlyRent, o.MonthlyRent)
	if o.Amortization != nil && *o.Amortization != "" {
		a.Amortization = *o.Amortization
	}
	return a
}

type ExpenseBreakdown struct {
	PropertyTax float64 `json:"property_tax" yaml:"property_tax"`
	Insurance   float64 `json:"insurance" yaml:"insurance"`
	Maintenance float64 `json:"maintenance" yaml:"maintenance"`
	Vacancy     float64 `json:"vacancy" yaml:"vacancy"`
	Management  float64 `json:"management" yaml:"management"`
}

// Total sums every annual expense
func (e ExpenseBreakdown) Total() float64 {
	return e.PropertyTax + e.Insurance + e.Maintenance + e.Vacancy + e.Management
}

type InvestmentMetrics struct {
	PurchasePrice       float64          `json:"purchase_price" yaml:"purchase_price"`
	DownPayment         float64          `json:"down_payment" yaml:"down_payment"`
	LoanAmount          float64          `json:"loan_amount" yaml:"loan_amount"`
	MonthlyMortgage     float64          `json:"monthly_mortgage" yaml:"monthly_mortgage"`
	MonthlyRent         float64          `json:"monthly_rent" yaml:"monthly_rent"`
	AnnualRent          float64          `json:"annual_rent" yaml:"annual_rent"`
	AnnualExpenses      float64          `json:"annual_expenses" yaml:"annual_expenses"`
	Expenses            ExpenseBreakdown `json:"expenses" yaml:"expenses"`
	NOI                 float64          `json:"noi" yaml:"noi"`
	AnnualCashFlow      float64          `json:"annual_cash_flow" yaml:"annual_cash_flow"`
	MonthlyCashFlow     float64          `json:"monthly_cash_flow" yaml:"monthly_cash_flow"`
	CapRate             float64          `json:"cap_rate" yaml:"cap_rate"`
	CashOnCashReturn    float64          `json:"cash_on_cash_return" yaml:"cash_on_cash_return"`
	GrossRentMultiplier float64          `json:"gross_rent_multiplier" yaml:"gross_rent_multiplier"`
	HoldingPeriodYears  int              `json:"holding_period_years" yaml:"holding_period_years"`
	FutureValue         float64          `json:"future_value" yaml:"future_value"`
	RemainingLoan       float64          `json:"remaining_loan" yaml:"remaining_loan"`
	EquityAtHorizon     float64          `json:"equity_at_horizon" yaml:"equity_at_horizon"`
	CumulativeCashFlow  float64          `json:"cumulative_cash_flow" yaml:"cumulative_cash_flow"`
	TotalProfit         float64          `json:"total_profit" yaml:"total_profit"`
	TotalROI            float64          `json:"total_roi" yaml:"total_roi"`
	AnnualizedROI       float64          `json:"annualized_roi" yaml:"annualized_roi"`
}

// InvestmentStrategy weights the components of an investment score
type InvestmentStrategy string

const (
	StrategyCashFlow     InvestmentStrategy = "cash_flow"
	StrategyAppreciation InvestmentStrategy = "appreciation"
	StrategyBalanced     InvestmentStrategy = "balanced"
)

type InvestmentOpportunity struct {
	Property          Property          `json:"property" yaml:"property"`
	Metrics           InvestmentMetrics `json:"metrics" yaml:"metrics"`
	AppreciationRate  float64           `json:"appreciation_rate" yaml:"appreciation_rate"`
	CashFlowScore     float64           `json:"cash_flow_score" yaml:"cash_flow_score"`
	CapRateScore      float64           `json:"cap_rate_score" yaml:"cap_rate_score"`
	AppreciationScore float64           `json:"appreciation_score" yaml:"appreciation_score"`
	InvestmentScore   float64           `json:"investment_score" yaml:"investment_score"`
}
