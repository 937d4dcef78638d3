package factory

// =============================================================================
// PRESETS
// =============================================================================

// DefaultCatalogYAML is the catalog seeded into an empty database when no
// catalog file is configured. Contribution rates are illustrative.
const DefaultCatalogYAML = `
allowances:
  - id: alw-rice
    code: RICE
    name: Rice Subsidy
    calculation_type: fixed
    default_amount: 1500
  - id: alw-transport
    code: TRANSPORT
    name: Transportation Allowance
    calculation_type: fixed
    default_amount: 2000
    frequency: monthly
  - id: alw-meal
    code: MEAL
    name: Meal Allowance
    calculation_type: formula
    formula: "working_days * 150.0"
  - id: alw-ot
    code: OT
    name: Overtime
    calculation_type: manual

deductions:
  - id: ded-sss
    code: SSS
    name: Social Security
    calculation_type: percentage
    percentage: 4.5
    percentage_base: monthly_salary
    frequency: monthly
    mandatory: true
  - id: ded-philhealth
    code: PHILHEALTH
    name: Health Insurance
    calculation_type: percentage
    percentage: 2.5
    percentage_base: monthly_salary
    frequency: monthly
    mandatory: true
  - id: ded-pagibig
    code: PAGIBIG
    name: Housing Fund
    calculation_type: fixed
    default_amount: 200
    frequency: monthly
    mandatory: true
  - id: ded-wht
    code: WHT
    name: Withholding Tax
    calculation_type: percentage
    percentage: 10
    percentage_base: basic_pay
    mandatory: true
  - id: ded-loan
    code: LOAN
    name: Salary Loan
    calculation_type: fixed
    default_amount: 1000

benefits:
  - id: bnt-13th
    code: 13TH
    name: 13th Month Pay
    category: annual
    calculation_type: percentage
    percentage: 100
    percentage_base: monthly_salary
    minimum_service_months: 1
    taxable: true
    prorated: true
  - id: bnt-loyalty
    code: LOYALTY
    name: Loyalty Award
    category: loyalty
    calculation_type: formula
    formula: "service_months >= 120.0 ? 20000.0 : 10000.0"
    minimum_service_months: 60
    taxable: true
  - id: bnt-performance
    code: PERF
    name: Performance Bonus
    category: performance
    calculation_type: manual
    taxable: true
`

// DefaultCatalog parses DefaultCatalogYAML.
func DefaultCatalog() *Catalog {
	cat, err := Parse([]byte(DefaultCatalogYAML))
	if err != nil {
		panic("factory: default catalog: " + err.Error())
	}
	return cat
}
